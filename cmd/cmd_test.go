package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zeit-on-tolino/internal/app"
	"github.com/JakeFAU/zeit-on-tolino/internal/config"
	"github.com/JakeFAU/zeit-on-tolino/internal/download"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		config.EnvTolinoUser,
		config.EnvTolinoPassword,
		config.EnvTolinoPartnerShop,
		config.EnvZeitUser,
		config.EnvZeitPassword,
	} {
		t.Setenv(name, "")
	}
	t.Setenv("EPAPER_DOWNLOAD_DIR", t.TempDir())
	t.Setenv("EPAPER_LOGGING_LEVEL", "error")
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvTolinoUser, "reader@example.com")
	t.Setenv(config.EnvTolinoPassword, "tolino-secret")
	t.Setenv(config.EnvTolinoPartnerShop, "Hugendubel")
	t.Setenv(config.EnvZeitUser, "reader@example.com")
	t.Setenv(config.EnvZeitPassword, "zeit-secret")
}

func TestCheckReportsMissingCredential(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "check")
	var missing *config.MissingEnvError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, config.EnvTolinoUser, missing.Name)
	require.Contains(t, out, "missing")
	require.Contains(t, out, "supported partner shops: hugendubel, osiander, thalia, weltbild")
}

func TestCheckOK(t *testing.T) {
	isolateEnv(t)
	setCredentials(t)

	out, err := execute(t, "check")
	require.NoError(t, err)
	require.Contains(t, out, "configuration OK")
	require.Contains(t, out, "hugendubel")
	require.NotContains(t, out, "tolino-secret")
	require.NotContains(t, out, "zeit-secret")
}

func TestCheckRejectsUnsupportedShop(t *testing.T) {
	isolateEnv(t)
	setCredentials(t)
	t.Setenv(config.EnvTolinoPartnerShop, "amazon")

	_, err := execute(t, "check")
	require.ErrorContains(t, err, "not supported")
}

func TestSyncIsDefaultAndNeedsCredentials(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t)
	var missing *config.MissingEnvError
	require.True(t, errors.As(err, &missing))

	_, err = execute(t, "sync")
	require.True(t, errors.As(err, &missing))
}

func TestDownloadOnlyNeedsZeitCredentials(t *testing.T) {
	isolateEnv(t)
	t.Setenv(config.EnvZeitUser, "reader@example.com")

	_, err := execute(t, "download")
	var missing *config.MissingEnvError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, config.EnvZeitPassword, missing.Name)
}

func TestUploadNeedsTolinoCredentials(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "upload")
	var missing *config.MissingEnvError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, config.EnvTolinoUser, missing.Name)
}

func TestUploadWithoutFileFallsBackToNewestDownload(t *testing.T) {
	isolateEnv(t)
	setCredentials(t)

	_, err := execute(t, "upload")
	require.ErrorIs(t, err, download.ErrEmptyDir)

	_, err = execute(t, "upload", "a.epub", "b.epub")
	require.Error(t, err)
}

func TestInspectPrintsMetadata(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "issue.epub")
	writeEPUB(t, path)

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	require.Contains(t, out, "DIE ZEIT 12/2024")
	require.Contains(t, out, "sha256")
	require.Contains(t, out, "de")
}

func TestInspectMissingFile(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "inspect", filepath.Join(t.TempDir(), "missing.epub"))
	require.ErrorContains(t, err, "inspect")
}

func TestHistoryDisabledWithoutDSN(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "history")
	require.ErrorIs(t, err, app.ErrHistoryDisabled)
}

func TestBadConfigFile(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "check")
	require.ErrorContains(t, err, "load config")
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"a", "b"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	require.Contains(t, out, "1")
	require.Contains(t, out, "3")
	require.Empty(t, renderTable(nil, nil, nil))
}

func writeEPUB(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	entries := map[string]string{
		"mimetype": "application/epub+zip",
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
		"content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>DIE ZEIT 12/2024</dc:title>
    <dc:language>de</dc:language>
  </metadata>
</package>`,
	}
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
