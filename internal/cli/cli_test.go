package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabildo-bot/internal/data/filestore"
	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/survey"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"serve"}, {"worker"}, {"profiles", "list"}, {"profiles", "show"}, {"profiles", "reset"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	serve, _, _ := cmd.Find([]string{"serve"})
	flag := serve.Flags().Lookup("with-worker")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

// writeConfig points every backend at memory or a file under a temp dir.
func writeConfig(t *testing.T) (cfgPath, storePath string) {
	dir := t.TempDir()
	storePath = filepath.Join(dir, "store")
	cfg := map[string]interface{}{
		"store_path": storePath,
		"transport":  "cloudapi",
		"storage": map[string]string{
			"profiles": "file",
			"queue":    "memory",
			"sessions": "memory",
			"dedup":    "memory",
		},
		"transcription": map[string]string{"provider": "none"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath = filepath.Join(dir, "cabildo.json")
	require.NoError(t, os.WriteFile(cfgPath, data, 0644))
	return cfgPath, storePath
}

func run(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProfilesCommands(t *testing.T) {
	cfgPath, storePath := writeConfig(t)

	backend, err := filestore.NewProfileBackend(filepath.Join(storePath, "profiles.json"), logger.Nop())
	require.NoError(t, err)
	_, err = profile.NewStore(backend, logger.Nop()).Update(context.Background(), "519", survey.SetCabildoName{CabildoName: "Cabildo Sur"})
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "profiles", "list")
	require.NoError(t, err)
	assert.Equal(t, "519\n", out)

	out, err = run(t, "--config", cfgPath, "profiles", "show", "519")
	require.NoError(t, err)
	var shown map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "Cabildo Sur", shown["lastCabildoName"])

	_, err = run(t, "--config", cfgPath, "profiles", "show", "404")
	assert.Error(t, err)

	out, err = run(t, "--config", cfgPath, "profiles", "reset", "519")
	require.NoError(t, err)
	assert.Equal(t, "reset 519\n", out)

	out, err = run(t, "--config", cfgPath, "profiles", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWorkerRejectsMemoryQueue(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "--config", cfgPath, "worker")
	assert.Error(t, err)
}
