package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	loc, err := ParseURL("s3://runs/2026/lysozyme/")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "runs", Prefix: "2026/lysozyme"}, loc)
	assert.Equal(t, "2026/lysozyme/modelcraft.pdb", loc.Key("modelcraft.pdb"))

	loc, err = ParseURL("s3://runs")
	require.NoError(t, err)
	assert.Equal(t, "modelcraft.json", loc.Key("modelcraft.json"))

	_, err = ParseURL("https://runs/x")
	assert.Error(t, err)
	_, err = ParseURL("s3:///prefix")
	assert.Error(t, err)
}

func TestDirPublishFiles(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "modelcraft.pdb")
	require.NoError(t, os.WriteFile(a, []byte("ATOM\n"), 0o644))

	dst := filepath.Join(t.TempDir(), "out")
	got, err := PublishFiles(context.Background(), Dir{Root: dst}, nil, a, filepath.Join(src, "absent.mtz"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	raw, err := os.ReadFile(filepath.Join(dst, "modelcraft.pdb"))
	require.NoError(t, err)
	assert.Equal(t, "ATOM\n", string(raw))
}

type fakePutter struct {
	keys   []string
	bodies []string
	types  []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.bodies = append(f.bodies, string(body))
	f.types = append(f.types, aws.ToString(in.ContentType))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Publish(t *testing.T) {
	fake := &fakePutter{}
	p := &S3{client: fake, loc: Location{Bucket: "runs", Prefix: "job-7"}}

	src := t.TempDir()
	report := filepath.Join(src, "modelcraft.json")
	require.NoError(t, os.WriteFile(report, []byte(`{"cycles":[]}`), 0o644))

	got, err := PublishFiles(context.Background(), p, nil, report)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://runs/job-7/modelcraft.json"}, got)
	assert.Equal(t, []string{"runs/job-7/modelcraft.json"}, fake.keys)
	assert.Equal(t, []string{`{"cycles":[]}`}, fake.bodies)
	assert.Equal(t, []string{"application/json"}, fake.types)
}

func TestS3PublishError(t *testing.T) {
	p := &S3{client: &fakePutter{err: errors.New("access denied")}, loc: Location{Bucket: "runs"}}
	_, err := p.Publish(context.Background(), "modelcraft.pdb", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://runs/modelcraft.pdb")
}
