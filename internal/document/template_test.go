package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/codeshare/internal/protocol"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "fizz.yaml", "name: fizzbuzz\nlanguage: python\ncode: |\n  for i in range(3):\n      print(i)\n")
	writeTemplate(t, dir, "hello.yml", "code: console.log('hi')\n")
	writeTemplate(t, dir, "notes.txt", "ignored")

	all, err := LoadTemplates(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fizzbuzz", all[0].Name)
	assert.Equal(t, "hello", all[1].Name)

	var opts Options
	require.NoError(t, all[0].Apply(&opts))
	assert.Equal(t, protocol.Python, opts.Language)
	assert.Equal(t, "for i in range(3):\n    print(i)\n", opts.Text)

	require.NoError(t, all[1].Apply(&opts))
	assert.Equal(t, protocol.JavaScript, opts.Language)
}

func TestLoadTemplateRejectsLanguage(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "bad.yaml", "language: ruby\ncode: puts 1\n")

	_, err := LoadTemplate(filepath.Join(dir, "bad.yaml"))
	assert.ErrorIs(t, err, protocol.ErrUnknownLanguage)
}

func TestFindTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.yaml", "name: alpha\ncode: '1'\n")

	tpl, err := FindTemplate(dir, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "1", tpl.Code)

	_, err = FindTemplate(dir, "beta")
	assert.Error(t, err)

	none, err := LoadTemplates(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
