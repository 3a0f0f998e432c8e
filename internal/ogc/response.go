package ogc

import "io"

// Response is the uniform result of every operation handler.
type Response struct {
	contentType string
	content     []byte
}

// NewResponse copies content so the Response cannot be mutated by the caller.
func NewResponse(contentType string, content []byte) Response {
	c := make([]byte, len(content))
	copy(c, content)
	return Response{contentType: contentType, content: c}
}

func (r Response) ContentType() string {
	return r.contentType
}

// Content returns a copy of the response body.
func (r Response) Content() []byte {
	c := make([]byte, len(r.content))
	copy(c, r.content)
	return c
}

func (r Response) Len() int {
	return len(r.content)
}

// WriteTo writes the body without copying it.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.content)
	return int64(n), err
}
