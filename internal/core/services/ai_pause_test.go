package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAIPause_EnableDisable(t *testing.T) {
	p := NewAIPause()
	assert.False(t, p.IsActive())

	p.Enable("model misbehaving", "admin-1")
	assert.True(t, p.IsActive())

	status := p.Status()
	assert.True(t, status.Active)
	assert.Equal(t, "model misbehaving", status.Reason)
	assert.Equal(t, "admin-1", status.ActivatedBy)
	assert.False(t, status.ActivatedAt.IsZero())

	p.Disable("admin-2")
	assert.False(t, p.IsActive())
	assert.Empty(t, p.Status().Reason)

	// disabling twice is harmless
	p.Disable("admin-2")
	assert.False(t, p.IsActive())
}
