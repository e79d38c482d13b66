package app

import "classroom-live-service/internal/domain"

// Sanitize returns the public view of a master quiz. It never mutates master;
// nil collections stay nil and empty ones stay empty.
func Sanitize(master domain.Quiz) domain.SanitizedQuiz {
	view := domain.SanitizedQuiz{
		ID:      master.ID,
		Version: master.Version,
		Materi:  master.Materi,
	}

	if master.MultipleChoice != nil {
		view.MultipleChoice = make([]domain.PublicMultipleChoice, len(master.MultipleChoice))
		for i, mc := range master.MultipleChoice {
			var options []string
			if mc.Options != nil {
				options = make([]string, len(mc.Options))
				copy(options, mc.Options)
			}
			view.MultipleChoice[i] = domain.PublicMultipleChoice{Question: mc.Question, Options: options}
		}
	}
	if master.ShortAnswer != nil {
		view.ShortAnswer = make([]domain.PublicShortAnswer, len(master.ShortAnswer))
		for i, sa := range master.ShortAnswer {
			view.ShortAnswer[i] = domain.PublicShortAnswer{Question: sa.Question}
		}
	}
	if master.Essay != nil {
		view.Essay = make([]domain.PublicEssay, len(master.Essay))
		for i, e := range master.Essay {
			view.Essay[i] = domain.PublicEssay{Question: e.Question}
		}
	}
	return view
}
