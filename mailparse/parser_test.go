package mailparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse_PlainText(t *testing.T) {
	raw := crlf(`From: alice@example.com
To: bob@example.com
Subject: hi
Content-Type: text/plain; charset=utf-8

Meeting at 3pm`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Meeting at 3pm", content.Text)
}

func TestParse_NoContentTypeDefaultsToPlain(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: hi

just text`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "just text", content.Text)
}

func TestParse_PrefersPlainOverHTML(t *testing.T) {
	raw := crlf(`From: alice@example.com
Content-Type: multipart/alternative; boundary=XYZ

--XYZ
Content-Type: text/html; charset=utf-8

<p>Meeting at <b>3pm</b></p>
--XYZ
Content-Type: text/plain; charset=utf-8

Meeting at 3pm
--XYZ--
`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Meeting at 3pm", content.Text)
}

func TestParse_HTMLOnly(t *testing.T) {
	raw := crlf(`From: alice@example.com
Content-Type: multipart/alternative; boundary=XYZ

--XYZ
Content-Type: text/html; charset=utf-8

<p>Hello</p>
--XYZ--
`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", content.Text)
}

func TestParse_IgnoresAttachments(t *testing.T) {
	raw := crlf(`From: alice@example.com
Content-Type: multipart/mixed; boundary=OUT

--OUT
Content-Type: text/plain
Content-Disposition: attachment; filename="notes.txt"

attached notes
--OUT
Content-Type: multipart/alternative; boundary=IN

--IN
Content-Type: text/plain; charset=utf-8

body text
--IN--
--OUT--
`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "body text", content.Text)
}

func TestParse_NoTextParts(t *testing.T) {
	raw := crlf(`From: alice@example.com
Content-Type: multipart/mixed; boundary=OUT

--OUT
Content-Type: image/png
Content-Disposition: attachment; filename="a.png"

xxxx
--OUT--
`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "", content.Text)
}

func TestParse_QuotedPrintableLatin1(t *testing.T) {
	raw := crlf(`From: alice@example.com
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Gr=FC=DFe`)

	content, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Grüße", content.Text)
}

func TestParse_MalformedFallsBackToRaw(t *testing.T) {
	raw := []byte("this is not a mime message at all")

	content, err := Parse(raw)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, "this is not a mime message at all", content.Text)
}

func TestParse_Empty(t *testing.T) {
	content, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "", content.Text)
}

func TestParse_OversizedPartIsTruncated(t *testing.T) {
	header := "From: alice@example.com\r\nContent-Type: text/plain\r\n\r\n"

	content, err := Parse([]byte(header + strings.Repeat("x", maxPartSize+10)))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.Len(t, content.Text, maxPartSize)

	content, err = Parse([]byte(header + strings.Repeat("x", maxPartSize)))
	require.NoError(t, err)
	assert.Len(t, content.Text, maxPartSize)
}
