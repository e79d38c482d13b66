package app_test

import (
	"encoding/json"
	"testing"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKeepsShapeAndDropsSecrets(t *testing.T) {
	master := fullQuiz()

	view := app.Sanitize(master)

	require.Len(t, view.MultipleChoice, 2)
	require.Len(t, view.ShortAnswer, 1)
	require.Len(t, view.Essay, 3)
	require.Equal(t, "Plants absorb?", view.MultipleChoice[0].Question)
	require.Equal(t, "Made in?", view.MultipleChoice[1].Question)
	require.Equal(t, []string{"roots", "leaves"}, view.MultipleChoice[1].Options)
	require.Equal(t, "Free text", view.Essay[2].Question)
	require.Equal(t, master.ID, view.ID)
	require.Equal(t, master.Materi, view.Materi)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	for _, secret := range []string{`"correct"`, `"answer"`, `"keywords"`, "chlorophyll", "glucose"} {
		require.NotContains(t, string(raw), secret)
	}
}

func TestSanitizeDoesNotMutateMaster(t *testing.T) {
	master := fullQuiz()
	before := master.Clone()

	view := app.Sanitize(master)
	view.MultipleChoice[0].Options[0] = "tampered"

	require.Equal(t, before, master)
}

func TestSanitizeEmptyCollections(t *testing.T) {
	view := app.Sanitize(domain.Quiz{Materi: "empty", MultipleChoice: []domain.MultipleChoice{}})

	require.NotNil(t, view.MultipleChoice)
	require.Empty(t, view.MultipleChoice)
	require.Nil(t, view.ShortAnswer)
	require.Nil(t, view.Essay)
}
