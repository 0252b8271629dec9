package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopentry/internal/config"
	"shopentry/pkg/logger"
)

type fakeExec struct {
	cmds []string
	fail map[string]error
}

func (f *fakeExec) key(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (f *fakeExec) Run(ctx context.Context, name string, args ...string) error {
	key := f.key(name, args...)
	f.cmds = append(f.cmds, key)
	if err, ok := f.fail[key]; ok {
		return err
	}
	return nil
}

func (f *fakeExec) Output(ctx context.Context, name string, args ...string) (string, error) {
	f.cmds = append(f.cmds, f.key(name, args...))
	return "", nil
}

func (f *fakeExec) ran(key string) bool {
	for _, c := range f.cmds {
		if c == key {
			return true
		}
	}
	return false
}

func testConfigurator(t *testing.T) (*Configurator, *fakeExec, *config.Config) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	c := New(cfg)
	c.root = t.TempDir()
	cfg.Runtime.DataDir = filepath.Join(c.root, "data")

	fe := &fakeExec{fail: map[string]error{}}
	c.exec = fe
	c.lookPath = func(file string) (string, error) {
		return "/usr/bin/" + file, nil
	}
	c.statOwner = func(path string) (int, int, error) {
		return cfg.Runtime.ServiceUID, cfg.Runtime.ServiceGID, nil
	}
	c.chown = func(path string, uid, gid int) error { return nil }
	return c, fe, cfg
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })
	return &buf
}

func TestApply_ApacheVariant(t *testing.T) {
	c, fe, cfg := testConfigurator(t)

	require.NoError(t, c.Apply(context.Background()))

	// Every interpreter module disabled, only the selected one re-enabled.
	for _, v := range cfg.Runtime.SupportedVersions {
		assert.True(t, fe.ran("a2dismod php"+v))
	}
	assert.True(t, fe.ran("a2enmod php"+cfg.Runtime.PHPVersion))

	target, err := os.Readlink(filepath.Join(c.root, "usr/bin/php"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/php"+cfg.Runtime.PHPVersion, target)
}

func TestApply_MissingInterpreterBinary(t *testing.T) {
	c, _, cfg := testConfigurator(t)
	c.lookPath = func(file string) (string, error) {
		return "", errors.New("not found")
	}

	err := c.Apply(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterpreterMissing)
	assert.Contains(t, err.Error(), "php"+cfg.Runtime.PHPVersion)
	assert.Contains(t, err.Error(), strings.Join(cfg.Runtime.SupportedVersions, ", "))
}

func TestApply_WritesIniOverridesLast(t *testing.T) {
	c, _, cfg := testConfigurator(t)

	require.NoError(t, c.Apply(context.Background()))

	for _, sapi := range []string{"cli", "apache2"} {
		path := filepath.Join(c.root, "etc/php", cfg.Runtime.PHPVersion, sapi, "conf.d", "zz-shopentry.ini")
		content, err := os.ReadFile(path)
		require.NoError(t, err, "override fragment missing for %s", sapi)
		assert.Contains(t, string(content), "memory_limit = 512M")
		assert.Contains(t, string(content), "upload_max_filesize = 128M")
		assert.Contains(t, string(content), "max_execution_time = 300")
	}
}

func TestApply_NginxVariantRewiresFPM(t *testing.T) {
	c, fe, cfg := testConfigurator(t)
	cfg.Runtime.WebServer = "nginx"

	require.NoError(t, c.Apply(context.Background()))

	for _, v := range cfg.Runtime.SupportedVersions {
		assert.True(t, fe.ran("service php"+v+"-fpm stop"))
	}
	assert.True(t, fe.ran("service php"+cfg.Runtime.PHPVersion+"-fpm start"))

	pool := filepath.Join(c.root, "etc/php", cfg.Runtime.PHPVersion, "fpm/pool.d/zz-shopentry.conf")
	content, err := os.ReadFile(pool)
	require.NoError(t, err)
	assert.Contains(t, string(content), "listen = "+FPMListenAddr)

	// The fpm SAPI gets the tunables instead of apache2.
	assert.FileExists(t, filepath.Join(c.root, "etc/php", cfg.Runtime.PHPVersion, "fpm/conf.d/zz-shopentry.ini"))
}

func TestApply_AdapterFailureIsFatal(t *testing.T) {
	c, fe, cfg := testConfigurator(t)
	fe.fail["a2enmod php"+cfg.Runtime.PHPVersion] = errors.New("apache broken")

	err := c.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to activate apache")
}

func TestApply_DependencyReinstallFailureIsWarning(t *testing.T) {
	buf := captureLog(t)
	c, fe, cfg := testConfigurator(t)
	cfg.Runtime.PHPVersion = "8.1"
	fe.fail["composer install --no-interaction --working-dir "+cfg.App.ShopRoot] = errors.New("composer broke")

	require.NoError(t, c.Apply(context.Background()), "dependency reinstall is best effort")
	assert.Contains(t, buf.String(), "dependency reinstall failed")
}

func TestApply_NoDependencyReinstallForDefaultVersion(t *testing.T) {
	c, fe, _ := testConfigurator(t)

	require.NoError(t, c.Apply(context.Background()))
	for _, cmd := range fe.cmds {
		assert.NotContains(t, cmd, "composer")
	}
}

func TestApply_TLSApache(t *testing.T) {
	c, fe, cfg := testConfigurator(t)
	cfg.TLS.Enabled = true
	cfg.App.URL = "https://shop.example.com"

	require.NoError(t, c.Apply(context.Background()))

	assert.FileExists(t, filepath.Join(c.root, tlsDir, "cert.pem"))
	assert.FileExists(t, filepath.Join(c.root, tlsDir, "key.pem"))

	site, err := os.ReadFile(filepath.Join(c.root, "etc/apache2/sites-available/shopentry-ssl.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(site), "shop.example.com")
	assert.Contains(t, string(site), "SSLCertificateFile")
	assert.Contains(t, string(site), "https://%{HTTP_HOST}")

	assert.True(t, fe.ran("a2enmod ssl rewrite"))
	assert.True(t, fe.ran("a2ensite shopentry-ssl"))
}

func TestApply_TLSCertificateGeneratedOnceAndReused(t *testing.T) {
	c, _, cfg := testConfigurator(t)
	cfg.TLS.Enabled = true

	require.NoError(t, c.Apply(context.Background()))
	first, err := os.ReadFile(filepath.Join(c.root, tlsDir, "cert.pem"))
	require.NoError(t, err)

	require.NoError(t, c.Apply(context.Background()))
	second, err := os.ReadFile(filepath.Join(c.root, tlsDir, "cert.pem"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing certificate must be reused")
}

func TestApply_TLSNginx(t *testing.T) {
	c, _, cfg := testConfigurator(t)
	cfg.Runtime.WebServer = "nginx"
	cfg.TLS.Enabled = true

	require.NoError(t, c.Apply(context.Background()))

	site, err := os.ReadFile(filepath.Join(c.root, "etc/nginx/conf.d/shopentry-ssl.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(site), "listen 443 ssl")
	assert.Contains(t, string(site), "return 301 https://")
	assert.Contains(t, string(site), "fastcgi_pass "+FPMListenAddr)
}

func TestApply_XdebugEnabled(t *testing.T) {
	c, _, cfg := testConfigurator(t)
	cfg.Xdebug.Enabled = true
	cfg.Xdebug.Host = "10.0.0.5"

	require.NoError(t, c.Apply(context.Background()))

	frag := filepath.Join(c.root, "etc/php", cfg.Runtime.PHPVersion, "cli/conf.d/zz-xdebug.ini")
	content, err := os.ReadFile(frag)
	require.NoError(t, err)
	assert.Contains(t, string(content), "xdebug.client_host=10.0.0.5")
	assert.Contains(t, string(content), "xdebug.client_port=9003")
	assert.Contains(t, string(content), "xdebug.idekey=SHOPENTRY")
}

func TestApply_XdebugDisabledLogsInactive(t *testing.T) {
	buf := captureLog(t)
	c, _, cfg := testConfigurator(t)

	require.NoError(t, c.Apply(context.Background()))
	assert.NoFileExists(t, filepath.Join(c.root, "etc/php", cfg.Runtime.PHPVersion, "cli/conf.d/zz-xdebug.ini"))
	assert.Contains(t, buf.String(), "inactive")
}

func TestNormalizeDataDir_RechownsOnlyOnMismatch(t *testing.T) {
	c, _, cfg := testConfigurator(t)

	var chowned []string
	c.chown = func(path string, uid, gid int) error {
		chowned = append(chowned, path)
		return nil
	}

	// Matching owner: no chown at all.
	require.NoError(t, c.normalizeDataDir())
	assert.Empty(t, chowned)

	// Mismatched owner: the whole tree is re-chowned.
	c.statOwner = func(path string) (int, int, error) { return 0, 0, nil }
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Runtime.DataDir, "media"), 0755))
	require.NoError(t, c.normalizeDataDir())
	assert.NotEmpty(t, chowned)
	assert.Contains(t, chowned, cfg.Runtime.DataDir)
	assert.Contains(t, chowned, filepath.Join(cfg.Runtime.DataDir, "media"))
}

func TestServerCommand(t *testing.T) {
	assert.Equal(t, []string{"apache2-foreground"}, ServerCommand("apache"))
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, ServerCommand("nginx"))
}

func TestHostFromURL(t *testing.T) {
	assert.Equal(t, "shop.example.com", hostFromURL("https://shop.example.com/admin"))
	assert.Equal(t, "localhost", hostFromURL("not a url"))
	assert.Equal(t, "localhost", hostFromURL(""))
}
