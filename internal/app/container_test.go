package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cmdrelay/internal/application/classify"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/infrastructure/client"
)

func TestBuildContainerWiresDispatcherAndJournal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ctx := context.Background()

	c, err := BuildContainer(ctx, Options{ConfigPath: filepath.Join(home, "cfg", "config.yaml")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NotNil(t, c.Journal)
	assert.Nil(t, c.HistoryStore)
	assert.FileExists(t, filepath.Join(home, "cfg", "config.yaml"))

	reply := c.Dispatcher.Handle(ctx, "CMD:echo wired")
	assert.True(t, reply.Success)
	assert.Equal(t, "wired", reply.Text)
	assert.Equal(t, 1, c.Ledger.Len())

	records, err := c.Journal.Records(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CMD:echo wired", records[0].Command)

	assert.Equal(t, "127.0.0.1:9000", c.ClientAddress("127.0.0.1", 9000))
	assert.Equal(t, net.JoinHostPort(c.Config.Server.Host, strconv.Itoa(c.Config.GetPort())), c.ClientAddress("", 0))
}

func TestBuildContainerWithPersistFileAndNoJournal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath := filepath.Join(dir, "config.yaml")
	persist := filepath.Join(dir, "history.json")
	yaml := "ledger:\n  persist_file: " + persist + "\njournal:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	c, err := BuildContainer(context.Background(), Options{ConfigPath: cfgPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Nil(t, c.Journal)
	require.NotNil(t, c.HistoryStore)

	c.Dispatcher.Handle(context.Background(), "CMD:echo saved")
	require.NoError(t, c.Ledger.Export(c.HistoryStore))
	assert.FileExists(t, persist)

	srv := c.NewServer("127.0.0.1", 9999)
	assert.NotNil(t, srv)
}

// serveContainer runs the container's server on a loopback port and returns a
// client pointed at it.
func serveContainer(t *testing.T, c *Container) *client.Client {
	t.Helper()
	srv := c.NewServer("127.0.0.1", 0)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	<-srv.Ready()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return client.New(srv.Addr().String(), client.WithReadTimeout(30*time.Second))
}

func TestServedContainerEchoAndReplay(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ctx := context.Background()

	c, err := BuildContainer(ctx, Options{ConfigPath: filepath.Join(home, "config.yaml")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	cl := serveContainer(t, c)

	session, err := cl.Dial(ctx)
	require.NoError(t, err)
	defer session.Close()

	first, err := session.Send(ctx, "CMD: echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", first)

	replayed, err := session.Send(ctx, "REPLAY:1")
	require.NoError(t, err)
	assert.Equal(t, first, replayed)

	require.Equal(t, 2, c.Ledger.Len())
	latest, ok := c.Ledger.Get(1)
	require.True(t, ok)
	assert.Equal(t, "CMD: echo hi", latest.Command)
	assert.True(t, latest.Success)
}

func TestServedContainerBlocksRecursiveDelete(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ctx := context.Background()

	c, err := BuildContainer(ctx, Options{ConfigPath: filepath.Join(home, "config.yaml")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.True(t, c.Config.IsSecurityEnabled())
	cl := serveContainer(t, c)

	victim := filepath.Join(home, "victim")
	require.NoError(t, os.MkdirAll(filepath.Join(victim, "nested"), 0o755))
	marker := filepath.Join(home, "marker")

	for _, command := range []string{
		"CMD: touch " + marker + "; rm -r -f " + victim,
		"CMD: rm -R " + victim,
		"CMD: rm --recursive " + victim,
	} {
		reply, err := cl.Send(ctx, command)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(reply, "Error: command blocked for security reasons"), reply)
		assert.Equal(t, domain.CategoryError, classify.Classify(reply))
	}

	assert.DirExists(t, victim)
	assert.NoFileExists(t, marker)

	entry, ok := c.Ledger.Get(1)
	require.True(t, ok)
	assert.False(t, entry.Success)
}
