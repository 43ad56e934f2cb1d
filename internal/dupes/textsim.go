package dupes

import (
	"context"
	"os"
	"sort"

	"github.com/filescope/filescope/internal/store"
)

// textHeadBytes is how much of each file feeds the embedding; enough to
// characterize a document without reading whole logs.
const textHeadBytes = 8192

// textGroups clusters semantically similar text files: embed the head of
// each file and group pairs whose cosine similarity meets the threshold.
func (a *Analyzer) textGroups(ctx context.Context, files []FileInfo) ([]Group, error) {
	var texts []FileInfo
	var contents []string
	for _, f := range files {
		if !isTextual(f.Path) {
			continue
		}
		if err := a.checkCancel(ctx); err != nil {
			return nil, err
		}
		head, err := readTextHead(f.Path)
		if err != nil || len(head) == 0 {
			continue
		}
		texts = append(texts, f)
		contents = append(contents, head)
	}
	if len(texts) < 2 {
		return nil, nil
	}

	vecs, err := a.text.EncodeBatch(ctx, contents)
	if err != nil {
		return nil, err
	}

	claimed := make([]bool, len(texts))
	var groups []Group
	for i := range texts {
		if claimed[i] || vecs[i] == nil {
			continue
		}
		members := []FileInfo{texts[i]}
		worst := 1.0
		for j := i + 1; j < len(texts); j++ {
			if claimed[j] || vecs[j] == nil {
				continue
			}
			if err := a.checkCancel(ctx); err != nil {
				return nil, err
			}
			score := store.CosineSimilarity(vecs[i], vecs[j])
			if score >= a.cfg.SimilarityThreshold {
				members = append(members, texts[j])
				claimed[j] = true
				if score < worst {
					worst = score
				}
			}
		}
		if len(members) < 2 {
			continue
		}
		claimed[i] = true
		groups = append(groups, makeTextGroup(members, worst))
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Files[0].Path < groups[j].Files[0].Path
	})
	return groups, nil
}

func readTextHead(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, textHeadBytes)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func makeTextGroup(files []FileInfo, worstScore float64) Group {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	g := Group{Type: GroupText, Files: files, Similarity: worstScore}
	var newest int64
	var newestSize int64
	for _, f := range files {
		g.TotalBytes += f.ByteSize
		if f.ModifiedAt > newest {
			newest = f.ModifiedAt
			newestSize = f.ByteSize
		}
	}
	// similar documents: keep the newest revision
	g.ReclaimableBytes = g.TotalBytes - newestSize
	return g
}
