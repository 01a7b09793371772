package store

import (
	"context"
	"fmt"
	"io/ioutil"
	"path"
	"sort"
	"strings"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	"cloud.google.com/go/storage"
	"github.com/alecthomas/kingpin"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSOptions struct {
	Bucket          string
	Prefix          string
	CacheControl    string
	CredentialsFile string
}

func (opt *GCSOptions) Bind(cmd *kingpin.CmdClause, prefix string) *GCSOptions {
	cmd.Flag(fmt.Sprintf("%scache-control", prefix), "Cache-Control header applied to uploaded objects").
		Default("public, max-age=3600").StringVar(&opt.CacheControl)
	cmd.Flag(fmt.Sprintf("%scredentials-file", prefix), "Service account credentials, defaulting to application default credentials").
		Envar("GOOGLE_APPLICATION_CREDENTIALS").StringVar(&opt.CredentialsFile)

	return opt
}

// GCSStore keeps objects in a Cloud Storage bucket, optionally beneath a prefix.
type GCSStore struct {
	bucket *storage.BucketHandle
	opts   GCSOptions
}

func NewGCS(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	clientOpts := []option.ClientOption{}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Cloud Storage client")
	}

	telem.LoggerFrom(ctx).Log("event", "gcs.open", "bucket", opts.Bucket, "prefix", opts.Prefix)

	return &GCSStore{bucket: client.Bucket(opts.Bucket), opts: opts}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, content []byte, contentType string) error {
	ctx, span := trace.StartSpan(ctx, "pkg/store/GCSStore.Put")
	span.AddAttributes(trace.StringAttribute("key", key))
	defer span.End()

	name, err := s.objectName(key)
	if err != nil {
		return err
	}

	// Cancelling the context is the only way to abandon an upload, otherwise Close
	// commits whatever has been written.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.opts.CacheControl

	if _, err := w.Write(content); err != nil {
		cancel()
		w.Close()
		return errors.Wrapf(err, "failed to upload %s", s.URI(key))
	}

	return errors.Wrapf(w.Close(), "failed to upload %s", s.URI(key))
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "pkg/store/GCSStore.Get")
	span.AddAttributes(trace.StringAttribute("key", key))
	defer span.End()

	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}

	r, err := s.bucket.Object(name).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %s", s.URI(key))
	}

	defer r.Close()

	content, err := ioutil.ReadAll(r)
	return content, errors.Wrapf(err, "failed to download %s", s.URI(key))
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := trace.StartSpan(ctx, "pkg/store/GCSStore.List")
	defer span.End()

	root := ""
	if s.opts.Prefix != "" {
		root = s.opts.Prefix + "/"
	}

	keys := []string{}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: root + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, errors.Wrap(err, "failed to list objects")
		}

		keys = append(keys, strings.TrimPrefix(attrs.Name, root))
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *GCSStore) URI(key string) string {
	name, err := s.objectName(key)
	if err != nil {
		name = key
	}

	return fmt.Sprintf("gs://%s/%s", s.opts.Bucket, name)
}

func (s *GCSStore) objectName(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	return path.Join(s.opts.Prefix, key), nil
}
