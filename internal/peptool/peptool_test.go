package peptool

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peptoolTenant = "11111111-1111-1111-1111-111111111111"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestCatalogCheck(t *testing.T) {
	out, err := execute(t, "", "catalog", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "leads\tcrm.leads\t")
	assert.Contains(t, out, "catalog ok: 5 entities")
	assert.Contains(t, out, "max_limit=200")

	out, err = execute(t, "", "catalog", "check", "--max-limit", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "max_limit=40")

	_, err = execute(t, "", "catalog", "check", "--catalog", "config/pep/missing.yaml")
	require.Error(t, err)

	bad := writeFile(t, "catalog.yaml", "version: 2\n")
	_, err = execute(t, "", "catalog", "check", "--catalog", bad)
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	frame := `{"target":"crm.leads","target_kind":"table","filters":[{"field":"status","operator":"eq","value":"open"}],"limit":1000}`
	out, err := execute(t, frame, "resolve")
	require.NoError(t, err)

	var q types.ResolvedQuery
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.True(t, q.Resolved)
	assert.Equal(t, "leads", q.Target)
	assert.Equal(t, 200, q.Limit)

	path := writeFile(t, "frame.json", `{"target":"unicorns"}`)
	out, err = execute(t, "", "resolve", "--frame", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"resolved": false`)

	_, err = execute(t, "", "resolve", "--frame", path, "--strict")
	require.ErrorIs(t, err, errUnresolved)

	_, err = execute(t, "{", "resolve")
	require.Error(t, err)
}

const replayIR = `{"resolved":true,"table":"crm.leads","target":"leads","filters":[{"field":"owner_id","operator":"eq","value":"{{entity_id}}"},{"field":"created_at","operator":"gte","value":"{{date: today}}"}],"sort":{"field":"created_at","direction":"desc"},"limit":50}`

func TestReplay(t *testing.T) {
	ir := writeFile(t, "ir.json", replayIR)
	payload := writeFile(t, "payload.json", `{"entity_id":"u-42"}`)

	out, err := execute(t, "", "replay", "--ir", ir, "--payload", payload,
		"--now", "2026-10-19T23:30:00Z", "--tz", "Asia/Tokyo", "--tenant", peptoolTenant)
	require.NoError(t, err)

	var got replayResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.IR.Filters, 2)
	assert.Equal(t, "u-42", got.IR.Filters[0].Value)
	assert.Equal(t, "2026-10-20", got.IR.Filters[1].Value)
	assert.Equal(t, `SELECT * FROM "crm"."leads" WHERE tenant_id = $1::uuid AND "owner_id" = $2 AND "created_at" >= $3 ORDER BY "created_at" DESC LIMIT 50`, got.SQL)
	assert.Equal(t, []any{peptoolTenant, "u-42", "2026-10-20"}, got.Args)
}

func TestReplay_FromStdinWithoutSQL(t *testing.T) {
	out, err := execute(t, replayIR, "replay", "--ir", "-", "--now", "2026-10-19")
	require.NoError(t, err)
	assert.NotContains(t, out, `"sql"`)
	assert.Contains(t, out, `"value": "2026-10-19"`)
	assert.Contains(t, out, `"value": "{{entity_id}}"`)
}

func TestReplay_Rejections(t *testing.T) {
	tenantFilter := writeFile(t, "tenant.json", `{"resolved":true,"table":"crm.leads","target":"leads","filters":[{"field":"tenant_id","operator":"eq","value":"x"}],"limit":5}`)
	_, err := execute(t, "", "replay", "--ir", tenantFilter)
	require.Error(t, err)

	unknownField := writeFile(t, "field.json", `{"resolved":true,"table":"crm.leads","target":"leads","filters":[{"field":"salary","operator":"eq","value":"x"}],"limit":5}`)
	_, err = execute(t, "", "replay", "--ir", unknownField)
	require.Error(t, err)

	ir := writeFile(t, "ir.json", replayIR)
	_, err = execute(t, "", "replay", "--ir", ir, "--tz", "Mars/Olympus")
	require.Error(t, err)
	_, err = execute(t, "", "replay", "--ir", ir, "--now", "not a time")
	require.Error(t, err)
	_, err = execute(t, "", "replay", "--ir", ir, "--vars", writeFile(t, "vars.json", "[1]"))
	require.Error(t, err)

	_, err = execute(t, "", "replay")
	require.Error(t, err)
}

func TestDB_RequiresURL(t *testing.T) {
	orig := lookupEnv
	lookupEnv = func(string) string { return "" }
	t.Cleanup(func() { lookupEnv = orig })

	for _, sub := range []string{"migrate", "rls-smoke"} {
		_, err := execute(t, "", "db", sub)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	}
}

func TestValidSQLIdent(t *testing.T) {
	assert.True(t, validSQLIdent(smokeRole))
	assert.False(t, validSQLIdent("x; DROP ROLE postgres"))
	assert.False(t, validSQLIdent(""))
}
