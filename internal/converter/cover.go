package converter

import (
	"context"
	"fmt"

	"github.com/yuanying/novel2epub/internal/epub"
)

const (
	coverTitle = "Cover"
	coverLink  = "../" + epub.CoverImageHref
)

// acquireCover downloads and normalizes the cover image. Failures are
// logged and reported as a nil asset so the build continues without a
// cover page.
func (a *Assembler) acquireCover(ctx context.Context, coverURL string) (*epub.Asset, error) {
	data, resolved, err := a.loadImage(ctx, "", coverURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Warn("cover unavailable, building without cover page", "url", coverURL, "error", err)
		return nil, nil
	}
	return &epub.Asset{
		ID:         epub.CoverImageID,
		Href:       epub.CoverImageHref,
		MediaType:  epub.MediaTypeJPEG,
		Data:       data,
		Properties: []string{"cover-image"},
		Source:     resolved,
	}, nil
}

// renderCoverPage builds the page that shows the cover image.
func renderCoverPage(bookTitle, lang string) []byte {
	body := fmt.Sprintf(`<div class="cover"><img src="%s" alt="%s"/></div>`+"\n",
		coverLink, xmlText(bookTitle))
	return writeDocument(coverTitle, lang, body)
}
