package provider

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailbot/core/port/out"
	"mailbot/pkg/crypto"

	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
)

func TestExtractPlainText(t *testing.T) {
	nested := &gmailv1.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmailv1.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmailv1.MessagePart{
					{MimeType: "text/html", Body: &gmailv1.MessagePartBody{Data: encode("<b>hi</b>")}},
					{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("plain body!"))}},
				},
			},
		},
	}
	if got := extractPlainText(nested, 0); got != "plain body!" {
		t.Errorf("nested plain = %q", got)
	}

	htmlOnly := &gmailv1.MessagePart{
		MimeType: "text/html",
		Body:     &gmailv1.MessagePartBody{Data: encode("<p>Hello &amp; welcome</p><br>Bye")},
	}
	if got := extractPlainText(htmlOnly, 0); got != "" {
		t.Errorf("html-only plain = %q, want empty", got)
	}
	if got := stripHTMLTags(extractHTML(htmlOnly, 0)); got != "Hello & welcome\n\nBye" {
		t.Errorf("stripped html = %q", got)
	}
}

func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		in, name, email string
	}{
		{"Jane Doe <Jane@Example.com>", "Jane Doe", "jane@example.com"},
		{"bob@example.com", "", "bob@example.com"},
		{`"Shop, Inc" <orders@shop.example>`, "Shop, Inc", "orders@shop.example"},
		{"Broken Name <broken@>", "Broken Name", "broken@"},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, email := parseEmailAddress(tt.in)
		if name != tt.name || email != tt.email {
			t.Errorf("parseEmailAddress(%q) = %q, %q; want %q, %q", tt.in, name, email, tt.name, tt.email)
		}
	}
}

func TestDecodeHeader(t *testing.T) {
	if got := decodeHeader("=?UTF-8?Q?Caf=C3=A9_order?="); got != "Café order" {
		t.Errorf("decodeHeader = %q", got)
	}
	if got := decodeHeader("plain subject"); got != "plain subject" {
		t.Errorf("decodeHeader plain = %q", got)
	}
}

func TestBuildRawReply_KeepsReferencesChain(t *testing.T) {
	raw := buildRawReply("", out.OutgoingReply{
		To:         "a@example.com",
		Subject:    "Re: hi",
		Body:       "body",
		InReplyTo:  "<2@mail>",
		References: "<1@mail>",
	})
	if !strings.Contains(raw, "References: <1@mail> <2@mail>\r\n") {
		t.Errorf("references chain not extended:\n%s", raw)
	}
	if strings.Contains(raw, "From:") {
		t.Error("From header written without an address")
	}
	if !strings.Contains(raw, "Precedence: bulk\r\n") {
		t.Error("missing Precedence header")
	}
}

func TestTokenStore_RoundTrip(t *testing.T) {
	enc, err := crypto.NewEncryptor([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		enc  *crypto.Encryptor
	}{
		{"plain", nil},
		{"sealed", enc},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := NewTokenStore(filepath.Join(t.TempDir(), "nested", "token.json"), tc.enc)

			if _, err := store.Load(); err != ErrNoToken {
				t.Fatalf("empty store err = %v, want ErrNoToken", err)
			}

			want := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
			if err := store.Save(want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := store.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
				t.Errorf("round trip = %+v, want %+v", got, want)
			}
		})
	}
}

type staticSource struct{ token *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.token, nil }

func TestPersistingTokenSource_SavesRefreshedToken(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"), nil)
	initial := &oauth2.Token{AccessToken: "old", RefreshToken: "r"}

	ts := newPersistingTokenSource(staticSource{initial}, store, initial)
	if _, err := ts.Token(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); err != ErrNoToken {
		t.Fatal("unchanged token should not be written")
	}

	ts.src = staticSource{&oauth2.Token{AccessToken: "new", RefreshToken: "r"}}
	if _, err := ts.Token(); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil || got.AccessToken != "new" {
		t.Fatalf("refreshed token not persisted: %+v, %v", got, err)
	}
}
