package ai

import (
	"context"
	"net/http"

	"github.com/leofalp/polychat/internal/utils"
)

// InlineImages returns a deep copy of turns whose remote image parts were
// downloaded and replaced with base64 data, for backends that cannot fetch
// URLs themselves. The input is never modified.
func InlineImages(ctx context.Context, client *http.Client, turns []Turn) ([]Turn, error) {
	out := CloneTurns(turns)
	for i := range out {
		for j, part := range out[i].Parts {
			image, ok := part.(ImagePart)
			if !ok || !image.IsRemote() {
				continue
			}
			mimeType, data, err := utils.FetchInline(ctx, client, image.URL)
			if err != nil {
				return nil, err
			}
			out[i].Parts[j] = ImagePart{URL: image.URL, Data: data, MIMEType: mimeType}
		}
	}
	return out, nil
}
