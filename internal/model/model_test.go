package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/apperr"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestValidityValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       Validity
		wantErr bool
	}{
		{"same day", Validity{day("2025-07-01"), day("2025-07-01")}, false},
		{"ordered", Validity{day("2025-07-01"), day("2025-12-31")}, false},
		{"inverted", Validity{day("2025-07-02"), day("2025-07-01")}, true},
		{"missing from", Validity{ValidTo: day("2025-07-01")}, true},
		{"missing to", Validity{ValidFrom: day("2025-07-01")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *apperr.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestScheduleValidateChecksPeriod(t *testing.T) {
	s := Schedule{Period: "2025-07", Validity: Validity{day("2025-07-01"), day("2025-07-31")}}
	require.Error(t, s.Validate())

	s.Period = "07-2025"
	require.NoError(t, s.Validate())
}

func TestSystemKeySegments(t *testing.T) {
	s := SystemMaster{SystemType: "APP", SystemCode: "SAP01", Validity: Validity{ValidFrom: day("2025-01-01")}}
	assert.Equal(t, []string{"APP", "SAP01", "2025-01-01"}, s.Key().Segments())
}

func TestUARProgressPercentage(t *testing.T) {
	assert.Equal(t, 50.0, UARProgress{Total: 10, Completed: 5}.Percentage())
	assert.Equal(t, 0.0, UARProgress{}.Percentage())
}

func TestUserPublicDropsHash(t *testing.T) {
	u := User{Username: "admin", PassHash: "$2a$..."}
	assert.Empty(t, u.Public().PassHash)
	assert.NotEmpty(t, u.PassHash)
}

func TestAuditLogEntryValid(t *testing.T) {
	assert.True(t, AuditLogEntry{Action: ActionLogin, Outcome: OutcomeSuccess}.Valid())
	assert.False(t, AuditLogEntry{Outcome: OutcomeSuccess}.Valid())
	assert.False(t, AuditLogEntry{Action: ActionLogin, Outcome: "maybe"}.Valid())
}
