package audit

import (
	"path/filepath"
	"testing"

	"github.com/elfradio/elfradio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashInputsStable(t *testing.T) {
	a := HashInputs(map[string]string{"mode": "GeneralCommunication"})
	b := HashInputs(map[string]string{"mode": "GeneralCommunication"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashInputs(map[string]string{"mode": "AirbandListening"}))
	assert.Equal(t, "hash_error", HashInputs(make(chan int)))
}

func TestDecisionWriter(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer st.Close()

	w := NewDecisionWriter(st)
	rec, err := w.Record(ActionTaskStart, map[string]string{"mode": "GeneralCommunication"}, OutcomeOK, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, HashInputs(map[string]string{"mode": "GeneralCommunication"}), rec.InputsHash)

	recs, err := st.ListDecisions(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionTaskStart, recs[0].Action)
	assert.Equal(t, "t1", recs[0].TaskID)
}
