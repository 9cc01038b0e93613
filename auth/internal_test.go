package auth

import "testing"

func TestBearerTokenStripsScheme(t *testing.T) {
	tok, err := bearerToken("Bearer cio1234abcd")
	if err != nil || tok != "cio1234abcd" {
		t.Fatalf("got %q, %v", tok, err)
	}
}

func TestBearerTokenAcceptsBareToken(t *testing.T) {
	tok, err := bearerToken("cio1234abcd")
	if err != nil || tok != "cio1234abcd" {
		t.Fatalf("got %q, %v", tok, err)
	}
}

func TestBearerTokenRejectsWrongScheme(t *testing.T) {
	if _, err := bearerToken("Basic deadbeef"); err == nil {
		t.Fatal("expected error for non-Bearer scheme")
	}
}

func TestWorkflowFilenameExtractsFileFromRef(t *testing.T) {
	got := workflowFilename("octo-org/octo-repo/.github/workflows/release.yml@refs/heads/main")
	if got != "release.yml" {
		t.Fatalf("got %q", got)
	}
}

func TestWorkflowFilenameRejectsMalformedRef(t *testing.T) {
	if got := workflowFilename("not-a-workflow-ref"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
