package license

import (
	"fmt"
	"time"
)

// Manager validates a license token against the current machine id.
type Manager struct {
	Secret string
}

// NewManager builds a Manager that verifies tokens signed with secret.
func NewManager(secret string) *Manager {
	return &Manager{Secret: secret}
}

// Validate parses token and checks it was issued for this machine and
// has not expired. An empty secret always validates (dry-run/dev mode).
func (m *Manager) Validate(token string) error {
	if m.Secret == "" {
		return nil
	}
	mid, err := MachineID()
	if err != nil {
		return fmt.Errorf("machine id: %w", err)
	}
	claims, err := ParseToken(m.Secret, token)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if claims.Machine != mid {
		return fmt.Errorf("license machine mismatch")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("license expired")
	}
	return nil
}
