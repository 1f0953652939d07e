package progress

import "strings"

// Level is a CEFR proficiency level tracked as a progress topic.
type Level struct {
	Key         string
	Description string
	Summary     string
	ToLearn     []string
}

// Levels lists the tracked CEFR levels in ascending order.
var Levels = []Level{
	{
		Key:         "A1",
		Description: "Beginner",
		Summary:     "Basic greetings, introductions, numbers 1-100, colors, days and months, telling time, present tense of ser, estar, tener and ir, simple questions, basic pronouns",
		ToLearn: []string{
			"greetings", "numbers", "colors", "days", "months", "basic-verbs", "pronouns", "family", "common-objects",
			"Present tense regular verbs", "Ser vs Estar basics", "Gender and number agreement", "Basic question formation",
		},
	},
	{
		Key:         "A2",
		Description: "Elementary",
		Summary:     "Everyday vocabulary for routine activities, preterite and imperfect, reflexive verbs, object pronouns, comparisons, basic connectors",
		ToLearn: []string{
			"daily-routine", "food", "travel", "work", "health", "emotions", "directions", "shopping",
			"Preterite tense", "Imperfect tense", "Reflexive verbs", "Object pronouns", "Comparatives/superlatives",
		},
	},
	{
		Key:         "B1",
		Description: "Intermediate",
		Summary:     "Present subjunctive, conditional and future tenses, relative clauses, advanced connectors, abstract vocabulary, opinions and hypotheticals",
		ToLearn: []string{
			"abstract-concepts", "opinions", "media", "environment", "politics", "culture", "idioms",
			"Present subjunctive", "Conditional tense", "Future tense", "Relative pronouns", "Subjunctive triggers",
		},
	},
	{
		Key:         "B2",
		Description: "Upper Intermediate",
		Summary:     "Imperfect subjunctive, conditional perfect, passive voice, idiomatic expressions, nuanced vocabulary, formal and informal register",
		ToLearn: []string{
			"professional", "academic", "nuanced-expressions", "regional-variations", "advanced-idioms",
			"Imperfect subjunctive", "Conditional perfect", "Passive constructions", "Sequence of tenses", "Advanced clause structures",
		},
	},
}

// LevelByKey finds a level case-insensitively.
func LevelByKey(key string) (Level, bool) {
	for _, l := range Levels {
		if strings.EqualFold(l.Key, strings.TrimSpace(key)) {
			return l, true
		}
	}
	return Level{}, false
}

// LevelKeys returns the level keys in order.
func LevelKeys() []string {
	keys := make([]string, len(Levels))
	for i, l := range Levels {
		keys[i] = l.Key
	}
	return keys
}
