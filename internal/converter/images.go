package converter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/epub"
)

var (
	errImagesDisabled = errors.New("image download disabled")
	errNoFetcher      = errors.New("no image fetcher configured")
)

// blockList is a run of blocks whose relative image references resolve
// against the same base URL.
type blockList struct {
	label  string
	base   string
	blocks []book.Block
}

// imageJob locates one image reference inside a blockList.
type imageJob struct {
	list   int
	block  int
	source string
	base   string
}

// imageSlot holds the outcome of one job. Each goroutine owns its slot.
type imageSlot struct {
	data []byte
	url  string
	err  error
}

// acquireImages downloads and normalizes every image referenced by lists and
// rewrites the references in place. Downloads run on at most a.workers
// goroutines; asset ids are assigned afterwards in discovery order so the
// result does not depend on completion timing. A failed image is removed
// from its list; the surrounding blocks stay. Only cancellation of ctx is
// returned as an error.
func (a *Assembler) acquireImages(ctx context.Context, lists []*blockList) ([]epub.Asset, error) {
	var jobs []imageJob
	for li, l := range lists {
		for bi, blk := range l.blocks {
			if blk.Kind != book.ImageBlock || blk.Image == nil {
				continue
			}
			jobs = append(jobs, imageJob{list: li, block: bi, source: blk.Image.Source, base: l.base})
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	slots := make([]imageSlot, len(jobs))
	if a.skipImages {
		for i := range slots {
			slots[i].err = errImagesDisabled
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.workers)
		for i, job := range jobs {
			g.Go(func() error {
				data, resolved, err := a.loadImage(gctx, job.base, job.source)
				if err != nil && ctx.Err() != nil {
					return ctx.Err()
				}
				slots[i] = imageSlot{data: data, url: resolved, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var assets []epub.Asset
	failed := make(map[imageJob]bool)
	for i, job := range jobs {
		slot := slots[i]
		l := lists[job.list]
		if slot.err != nil {
			if errors.Is(slot.err, errImagesDisabled) {
				a.logger.Debug("skipping image", "section", l.label, "src", job.source)
			} else {
				a.logger.Warn("dropping image", "section", l.label, "src", job.source, "error", slot.err)
			}
			failed[job] = true
			continue
		}

		id := fmt.Sprintf("img_%d", len(assets)+1)
		href := "images/" + id + ".jpg"
		l.blocks[job.block].Image.Local = "../" + href
		assets = append(assets, epub.Asset{
			ID:        id,
			Href:      href,
			MediaType: epub.MediaTypeJPEG,
			Data:      slot.data,
			Source:    slot.url,
		})
		a.logger.Debug("image acquired", "section", l.label, "asset", id, "url", slot.url, "bytes", len(slot.data))
	}

	if len(failed) > 0 {
		for _, job := range jobs {
			if failed[job] {
				lists[job.list].blocks[job.block] = book.Block{Kind: book.ImageBlock}
			}
		}
		for _, l := range lists {
			l.blocks = pruneDroppedImages(l.blocks)
		}
	}

	return assets, nil
}

// pruneDroppedImages removes image blocks left without a reference.
func pruneDroppedImages(blocks []book.Block) []book.Block {
	out := blocks[:0]
	for _, blk := range blocks {
		if blk.Kind == book.ImageBlock && blk.Image == nil {
			continue
		}
		out = append(out, blk)
	}
	return out
}

// loadImage resolves src against base, downloads it and normalizes it.
func (a *Assembler) loadImage(ctx context.Context, base, src string) ([]byte, string, error) {
	if a.fetcher == nil {
		return nil, "", errNoFetcher
	}
	resolved, err := resolveURL(base, src)
	if err != nil {
		return nil, "", err
	}
	raw, err := a.fetcher.Get(ctx, resolved)
	if err != nil {
		return nil, resolved, err
	}
	data, err := a.processor.Normalize(raw)
	if err != nil {
		return nil, resolved, err
	}
	return data, resolved, nil
}

// resolveURL makes src absolute. Protocol-relative references default to
// https when there is no base to inherit a scheme from.
func resolveURL(base, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", errors.New("empty image source")
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid image URL %q: %w", src, err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base URL %q: %w", base, err)
		}
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme == "" && ref.Host != "" {
		ref.Scheme = "https"
	}
	switch ref.Scheme {
	case "http", "https":
	case "":
		return "", fmt.Errorf("relative image URL %q without a base", src)
	default:
		return "", fmt.Errorf("unsupported image URL scheme %q", ref.Scheme)
	}
	return ref.String(), nil
}
