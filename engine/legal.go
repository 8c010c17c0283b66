package engine

import "fmt"

// CanConfirm reports whether Confirm would accept the current selection:
// the match must be submitting, the selection must hold 1..MaxSlot cards and
// a responder must match the first mover's slot size exactly.
func (m *Match) CanConfirm() bool { return m.checkConfirm() == nil }

func (m *Match) checkConfirm() error {
	if m.phase == PhaseDone {
		return ErrMatchOver
	}
	if m.phase != PhaseSubmitting {
		return ErrWrongPhase
	}
	n := len(m.selection)
	if n < 1 || n > m.rules.MaxSlot || n > m.local.Len() {
		return fmt.Errorf("%w: %d cards selected", ErrBadSelection, n)
	}
	if !m.validIndices(m.selection) {
		return ErrBadSelection
	}
	if !m.IsLocalFirstMover() && n != m.required {
		return fmt.Errorf("%w: %d cards selected, %d required", ErrBadSelection, n, m.required)
	}
	return nil
}

// AutoSubmitSelection returns the raw indices submitted when the countdown
// expires while submitting:
//
//   - first mover with nothing selected: raw indices 0 and 1
//   - first mover with 1..MaxSlot selected: the selection as-is
//   - responder with fewer than required: the selection topped up with the
//     lowest unselected raw indices
//   - responder with more than required: the first required selections
//
// It returns nil outside the submitting phase.
func (m *Match) AutoSubmitSelection() []int {
	if m.phase != PhaseSubmitting {
		return nil
	}
	sel := m.Selection()
	handLen := m.local.Len()

	if m.IsLocalFirstMover() {
		if len(sel) == 0 {
			n := 2
			if n > handLen {
				n = handLen
			}
			out := make([]int, n)
			for i := range out {
				out[i] = i
			}
			return out
		}
		if len(sel) > m.rules.MaxSlot {
			sel = sel[:m.rules.MaxSlot]
		}
		return sel
	}

	need := m.required
	if need < 1 {
		need = 1
	}
	if need > handLen {
		need = handLen
	}
	if len(sel) > need {
		return sel[:need]
	}
	chosen := make(map[int]bool, len(sel))
	for _, i := range sel {
		chosen[i] = true
	}
	for i := 0; i < handLen && len(sel) < need; i++ {
		if !chosen[i] {
			sel = append(sel, i)
		}
	}
	return sel
}

// AutoSubmit replaces the selection with AutoSubmitSelection and confirms
// it. Outside the submitting phase it does nothing and returns ErrWrongPhase.
func (m *Match) AutoSubmit() (Slot, error) {
	if m.phase == PhaseDone {
		return nil, ErrMatchOver
	}
	if m.phase != PhaseSubmitting {
		return nil, ErrWrongPhase
	}
	m.selection = m.AutoSubmitSelection()
	return m.Confirm()
}
