// Package prompt asks the operator to confirm a release.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// Confirmer answers a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// Auto answers every question with a fixed value.
type Auto bool

func (a Auto) Confirm(context.Context, string, string) (bool, error) {
	return bool(a), nil
}

// Terminal asks through an interactive huh form. Accessible mode reads plain
// lines, for terminals without cursor control.
type Terminal struct {
	Accessible bool
}

func (t Terminal) Confirm(ctx context.Context, title, description string) (bool, error) {
	var ok bool
	confirm := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Release").
		Negative("Cancel").
		Value(&ok)

	err := huh.NewForm(huh.NewGroup(confirm)).
		WithAccessible(t.Accessible).
		RunWithContext(ctx)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("prompt: %w", err)
	}
	return ok, nil
}
