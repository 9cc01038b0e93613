package email_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/email"
)

func TestFileSenderWritesMessage(t *testing.T) {
	dir := t.TempDir()
	s := &email.FileSender{Dir: dir}
	require.NoError(t, s.Send(context.Background(), "owner@example.com", "subject line", "body text"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "subject line")
	require.Contains(t, string(contents), "body text")
}

func TestNotifierSendOwnerInvitationRendersTemplate(t *testing.T) {
	dir := t.TempDir()
	n := &email.Notifier{Sender: &email.FileSender{Dir: dir}, BaseURL: "https://crates.example"}
	require.NoError(t, n.SendOwnerInvitation(context.Background(), "invitee@example.com", "demo-crate", "tok123"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "demo-crate")
	require.Contains(t, string(contents), "https://crates.example/accept-invite/tok123")
}

func TestNotifierSendPublishNotification(t *testing.T) {
	dir := t.TempDir()
	n := &email.Notifier{Sender: &email.FileSender{Dir: dir}, BaseURL: "https://crates.example"}
	require.NoError(t, n.SendPublishNotification(context.Background(), "owner@example.com", "demo-crate", "1.2.3"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "demo-crate v1.2.3")
	require.Contains(t, string(contents), "https://crates.example/crates/demo-crate/1.2.3")
}

func TestNotifierSendConfirmEmail(t *testing.T) {
	dir := t.TempDir()
	n := &email.Notifier{Sender: &email.FileSender{Dir: dir}, BaseURL: "https://crates.example"}
	require.NoError(t, n.SendConfirmEmail(context.Background(), "user@example.com", "octocat", "tok456"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "octocat")
	require.Contains(t, string(contents), "https://crates.example/confirm/tok456")
}
