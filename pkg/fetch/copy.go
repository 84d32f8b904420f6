package fetch

import (
	"net/url"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

// CopyResponse materializes resp into a fresh response with the same
// status, headers and body but without the redirected flag. Only
// responses whose final URL belongs to origin may be copied; modify, when
// non-nil, may adjust the copy before it is returned.
func CopyResponse(resp *Response, origin string, modify func(*Response)) (*Response, error) {
	var respOrigin string
	if resp.URL != "" {
		if u, err := url.Parse(resp.URL); err == nil {
			respOrigin = Origin(u)
		}
	}
	if respOrigin != origin {
		return nil, swerrors.New(swerrors.CodeCrossOriginCopyResponse, map[string]any{"origin": respOrigin})
	}

	out := resp.Clone()
	out.Redirected = false
	if modify != nil {
		modify(out)
	}
	return out, nil
}
