package blob

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Glob expands pattern into matching locations, sorted. Local patterns use
// filepath.Glob; gs:// patterns list the bucket under the literal prefix and
// match object names with path.Match.
func Glob(ctx context.Context, pattern string) ([]string, error) {
	if !IsGCS(pattern) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("blob: glob %q: %w", pattern, err)
		}
		sort.Strings(matches)
		return matches, nil
	}

	bucket, objPattern, err := ParseGCSURI(pattern)
	if err != nil {
		return nil, err
	}
	if !hasMeta(objPattern) {
		return []string{pattern}, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: create storage client: %w", err)
	}
	defer client.Close()

	prefix := objPattern[:strings.IndexAny(objPattern, "*?[")]
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var matches []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blob: listing gs://%s/%s: %w", bucket, prefix, err)
		}
		ok, err := path.Match(objPattern, attrs.Name)
		if err != nil {
			return nil, fmt.Errorf("blob: bad pattern %q: %w", pattern, err)
		}
		if ok {
			matches = append(matches, "gs://"+bucket+"/"+attrs.Name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}
