package quizmatch

// Question is one fixed quiz question.
type Question struct {
	ID   string
	Text string
}

// Questions are asked in this order; answers are matched by position.
var Questions = []Question{
	{ID: "q_1", Text: "Do you prefer spending your free time indoors or outdoors?"},
	{ID: "q_2", Text: "Are you more drawn to creative activities or analytical challenges?"},
	{ID: "q_3", Text: "How important is social interaction in your ideal hobby?"},
	{ID: "q_4", Text: "Do you enjoy learning new skills, or perfecting existing ones?"},
	{ID: "q_5", Text: "What kind of physical exertion are you comfortable with for a hobby?"},
}
