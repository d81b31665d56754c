package dag

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/graph/encoding"

	"github.com/fortressi/sagaflow"
)

var stepColors = map[sagaflow.StepStatus]string{
	sagaflow.StepPending:      "lightgrey",
	sagaflow.StepRunning:      "gold",
	sagaflow.StepCompleted:    "palegreen",
	sagaflow.StepFailed:       "tomato",
	sagaflow.StepCompensating: "orange",
	sagaflow.StepCompensated:  "lightblue",
}

const compensationFailedColor = "firebrick1"

// ErrEmptyState is returned when asked to draw a saga that has no steps.
var ErrEmptyState = errors.New("cannot render saga without steps")

func attr(key, value string) encoding.Attribute {
	return encoding.Attribute{Key: key, Value: value}
}

// FromState builds the graph of one saga run: a start node, one node per
// step coloured by status, and an end node labelled with the saga status.
// Forward edges follow the step order. Compensation edges run backwards
// from the failed step through every step that was compensated.
//
// It returns ErrEmptyState for a nil state or one without steps.
func FromState[C any](s *sagaflow.SagaState[C]) (*Graph, error) {
	if s == nil || len(s.Steps) == 0 {
		return nil, ErrEmptyState
	}
	g := New()
	_ = g.SetAttribute(attr("rankdir", "LR"))
	_ = g.SetAttribute(attr("label", fmt.Sprintf("%s (%s)", s.Name, s.Status)))
	_ = g.SetNodeDefault(attr("shape", "box"))
	_ = g.SetNodeDefault(attr("style", "filled"))

	start := g.AddNamedNode("start", attr("shape", "circle"), attr("label", "start"))
	end := g.AddNamedNode("end", attr("shape", "doublecircle"), attr("label", s.Status.String()))

	nodes := make([]*Node, len(s.Steps))
	for i, r := range s.Steps {
		color := stepColors[r.Status]
		label := fmt.Sprintf("%d: %s\n%s", i, r.Name, r.Status)
		if r.CompensationFailed() {
			color = compensationFailedColor
		}
		if r.Error != "" {
			label += "\n" + r.Error
		}
		nodes[i] = g.AddNamedNode(fmt.Sprintf("step%d", i),
			attr("label", label),
			attr("fillcolor", color),
		)
	}

	g.Connect(start, nodes[0])
	for i := 1; i < len(nodes); i++ {
		g.Connect(nodes[i-1], nodes[i])
	}
	if s.Status == sagaflow.SagaCompleted {
		g.Connect(nodes[len(nodes)-1], end)
	}

	compensating := s.Status == sagaflow.SagaCompensating || s.Status == sagaflow.SagaCompensated
	if compensating && s.CurrentStep >= 0 && s.CurrentStep < len(nodes) {
		prev := nodes[s.CurrentStep]
		for i := s.CurrentStep - 1; i >= 0; i-- {
			r := s.Steps[i]
			if r.Status != sagaflow.StepCompensated && r.Status != sagaflow.StepCompensating {
				continue
			}
			color := "blue"
			if r.CompensationFailed() {
				color = compensationFailedColor
			}
			g.Connect(prev, nodes[i], attr("style", "dashed"), attr("color", color), attr("label", "compensate"))
			prev = nodes[i]
		}
		if s.Status == sagaflow.SagaCompensated {
			g.Connect(prev, end, attr("style", "dashed"), attr("color", "blue"))
		}
	}
	return g, nil
}

// RenderDOT renders the saga run in Graphviz DOT format.
func RenderDOT[C any](s *sagaflow.SagaState[C]) (string, error) {
	g, err := FromState(s)
	if err != nil {
		return "", err
	}
	return g.ExportToDot(s.Name)
}
