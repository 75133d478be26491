package client

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
)

// Part is one field of a multipart body. A part with FilePath set is a file part whose
// filename is the base name of FilePath; otherwise Value is sent as a plain field.
type Part struct {
	Name     string
	Value    string
	FilePath string
}

func filePart(name, path string) Part {
	return Part{Name: name, FilePath: path}
}

// formParts appends the optional name and transform fields.
func formParts(parts []Part, opts *UploadOptions) []Part {
	if opts == nil {
		return parts
	}
	if opts.Name != "" {
		parts = append(parts, Part{Name: "name", Value: opts.Name})
	}
	if opts.Transform != nil {
		parts = append(parts, Part{Name: "transform", Value: strconv.FormatBool(*opts.Transform)})
	}
	return parts
}

// multipartBody is an encoded multipart/form-data payload.
type multipartBody struct {
	data        *bytes.Buffer
	contentType string
	files       int
	fileBytes   int64
}

// encodeMultipart writes parts in order. Every file is opened, read and closed here,
// so a missing file fails before anything is sent.
func encodeMultipart(ctx context.Context, parts []Part) (*multipartBody, error) {
	var (
		buf = new(bytes.Buffer)
		mw  = multipart.NewWriter(buf)
		mb  = &multipartBody{data: buf, contentType: mw.FormDataContentType()}
	)

	for _, p := range parts {
		if p.FilePath == "" {
			if err := mw.WriteField(p.Name, p.Value); err != nil {
				return nil, fault.Wrap(err, fmsg.With("error writing form field"), fctx.With(ctx))
			}
			continue
		}

		n, err := writeFilePart(mw, p)
		if err != nil {
			return nil, fault.Wrap(err, fctx.With(fctx.WithMeta(ctx, "file", p.FilePath)))
		}
		mb.files++
		mb.fileBytes += n
	}

	if err := mw.Close(); err != nil {
		return nil, fault.Wrap(err, fmsg.With("error closing multipart writer"), fctx.With(ctx))
	}
	return mb, nil
}

func writeFilePart(mw *multipart.Writer, p Part) (int64, error) {
	f, err := os.Open(p.FilePath)
	if err != nil {
		return 0, fault.Wrap(err, fmsg.With("error opening file"))
	}
	defer func() { _ = f.Close() }()

	filename := filepath.Base(p.FilePath)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     p.Name,
		"filename": filename,
	}))
	h.Set("Content-Type", contentTypeFor(filename))

	w, err := mw.CreatePart(h)
	if err != nil {
		return 0, fault.Wrap(err, fmsg.With("error creating file part"))
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return n, fault.Wrap(err, fmsg.With("error reading file"))
	}
	return n, nil
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
