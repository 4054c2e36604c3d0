package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestURLIsPresigned(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "ferry",
		SecretKey: "ferry-secret",
		Region:    "us-east-1",
		Bucket:    "archives",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint() != "localhost:9000" {
		t.Errorf("Endpoint = %q", c.Endpoint())
	}

	raw, err := c.URL(context.Background(), "deployments/d-1/instance.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "http" || u.Host != "localhost:9000" {
		t.Errorf("url = %s", raw)
	}
	if !strings.HasSuffix(u.Path, "/archives/deployments/d-1/instance.tar.gz") {
		t.Errorf("path = %s", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "900" {
		t.Errorf("X-Amz-Expires = %q, want 900", got)
	}
}

// Runs against a real bucket when FERRY_TEST_S3_ENDPOINT is set.
func TestKeepRoundTrip(t *testing.T) {
	endpoint := os.Getenv("FERRY_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("FERRY_TEST_S3_ENDPOINT not set")
	}
	c, err := NewClient(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("FERRY_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("FERRY_TEST_S3_SECRET_KEY"),
		Region:    "us-east-1",
		Bucket:    "ferry-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.EnsureBucket(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Healthy(ctx); err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "instance.tar.gz")
	if err := os.WriteFile(local, []byte("not really gzip"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.Keep(ctx, "tests/instance.tar.gz", local); err != nil {
		t.Fatal(err)
	}
}
