package callback

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger, path
}

func TestLedger_Add(t *testing.T) {
	ledger, _ := newTestLedger(t)

	require.NoError(t, ledger.Add("haiku", 100, 20))
	require.NoError(t, ledger.Add("haiku", 50, 10))
	require.NoError(t, ledger.Add("sonnet", 200, 40))

	usage := ledger.Snapshot()
	assert.Equal(t, int64(3), usage.Calls)
	assert.Equal(t, int64(350), usage.InputTokens)
	assert.Equal(t, int64(70), usage.OutputTokens)
	assert.Equal(t, domain.ModelUsage{InputTokens: 150, OutputTokens: 30, Calls: 2}, usage.ByModel["haiku"])
	assert.Equal(t, domain.ModelUsage{InputTokens: 200, OutputTokens: 40, Calls: 1}, usage.ByModel["sonnet"])
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	ledger, path := newTestLedger(t)
	require.NoError(t, ledger.Add("haiku", 100, 20))
	require.NoError(t, ledger.Close())

	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	defer reopened.Close()

	usage := reopened.Snapshot()
	assert.Equal(t, int64(1), usage.Calls)
	assert.Equal(t, int64(100), usage.InputTokens)
}

func TestLedger_Reset(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.NoError(t, ledger.Add("haiku", 100, 20))

	require.NoError(t, ledger.Reset())

	usage := ledger.Snapshot()
	assert.Zero(t, usage.Calls)
	assert.Zero(t, usage.InputTokens)
	assert.Empty(t, usage.ByModel)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.NoError(t, ledger.Add("haiku", 1, 1))

	snapshot := ledger.Snapshot()
	snapshot.ByModel["haiku"] = domain.ModelUsage{Calls: 999}

	assert.Equal(t, int64(1), ledger.Snapshot().ByModel["haiku"].Calls)
}

func TestLedger_CorruptTotalsStartOver(t *testing.T) {
	ledger, path := newTestLedger(t)
	require.NoError(t, ledger.Add("haiku", 100, 20))
	require.NoError(t, ledger.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsage).Put(keyTotals, []byte("{broken"))
	}))
	require.NoError(t, db.Close())

	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Zero(t, reopened.Snapshot().Calls)
}
