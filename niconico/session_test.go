package niconico

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicotsm/internal"
)

func TestWithSession_FlushesOnEveryExit(t *testing.T) {
	setCookie := func(s *Session) {
		s.Cookies().SetCookies(mustURL(t, "https://account.nicovideo.jp/"), []*http.Cookie{
			{Name: "user_session", Value: "user_session_1", Domain: ".nicovideo.jp", Path: "/", Expires: time.Now().Add(time.Hour)},
		})
	}

	t.Run("error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jar", "cookies.txt")
		boom := errors.New("boom")

		err := WithSession(SessionConfig{CookieJar: path}, func(s *Session) error {
			setCookie(s)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("panic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")

		func() {
			defer func() {
				assert.Equal(t, "boom", recover())
			}()
			WithSession(SessionConfig{CookieJar: path}, func(s *Session) error {
				setCookie(s)
				panic("boom")
			})
		}()

		_, err := os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("reload yields the same cookies", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")
		var saved []*http.Cookie

		require.NoError(t, WithSession(SessionConfig{CookieJar: path}, func(s *Session) error {
			setCookie(s)
			s.Cookies().SetCookies(mustURL(t, "https://live.nicovideo.jp/"), []*http.Cookie{{Name: "nicosid", Value: "1"}})
			saved = s.Cookies().All()
			return nil
		}))

		require.NoError(t, WithSession(SessionConfig{CookieJar: path}, func(s *Session) error {
			if diff := cmp.Diff(saved, s.Cookies().All()); diff != "" {
				t.Errorf("cookies differ after reload (-saved +loaded):\n%s", diff)
			}
			return nil
		}))
	})
}

func TestWithSession_SaveFailure(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nicotsm.log")
	closer, err := internal.InitLogger(internal.LogConfig{Level: "warn", File: logPath})
	require.NoError(t, err)
	t.Cleanup(func() {
		closer.Close()
		internal.InitLogger(internal.LogConfig{Level: "warn"})
	})

	// the jar directory is replaced by a regular file while the session is open
	blockJar := func(t *testing.T) (string, func()) {
		dir := filepath.Join(t.TempDir(), "state")
		return filepath.Join(dir, "cookies.txt"), func() {
			require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0600))
		}
	}

	t.Run("returned when the run succeeded", func(t *testing.T) {
		jar, block := blockJar(t)
		err := WithSession(SessionConfig{CookieJar: jar}, func(s *Session) error {
			block()
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save cookie jar")
	})

	t.Run("logged when the run failed", func(t *testing.T) {
		jar, block := blockJar(t)
		errRun := errors.New("run failed")
		err := WithSession(SessionConfig{CookieJar: jar}, func(s *Session) error {
			block()
			return errRun
		})
		assert.ErrorIs(t, err, errRun)

		data, readErr := os.ReadFile(logPath)
		require.NoError(t, readErr)
		assert.Contains(t, string(data), "cookie jar was not saved")
	})
}

func TestSession_MemoryOnly(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	session, err := Open(SessionConfig{})
	require.NoError(t, err)
	session.Cookies().SetCookies(mustURL(t, "https://nicovideo.jp/"), []*http.Cookie{{Name: "a", Value: "1"}})
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSession_Accessors(t *testing.T) {
	session, err := Open(SessionConfig{UserAgent: "nicotsm/1.0", Timeout: 3 * time.Second, Location: jst, Context: "ctx"})
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, "nicotsm/1.0", session.UserAgent())
	assert.Equal(t, 3*time.Second, session.Timeout())
	assert.Equal(t, jst, session.Location())
	assert.Equal(t, "ctx", session.Context())

	session.SetUserAgent("")
	session.SetTimeout(time.Second)
	session.SetLocation(time.UTC)
	assert.Equal(t, "", session.UserAgent())
	assert.Equal(t, time.Second, session.Timeout())
	assert.Equal(t, time.UTC, session.Location())
}

func TestOpen_InvalidProxy(t *testing.T) {
	_, err := Open(SessionConfig{Proxy: "ftp://proxy.example.com"})
	assert.Error(t, err)
}
