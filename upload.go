package gqlpipe

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/pkg/errors"
)

// Upload is a file-valued variable. Operations carrying uploads are sent
// as multipart requests with the file contents as binary parts.
type Upload struct {
	File        io.Reader
	Filename    string
	ContentType string
}

type uploadFile struct {
	path   string
	upload *Upload
}

// extractUploads returns a copy of variables with every upload replaced by
// nil, along with the uploads and their "variables.x.y" paths.
func extractUploads(variables map[string]interface{}) (map[string]interface{}, []uploadFile) {
	if variables == nil {
		return nil, nil
	}
	var files []uploadFile
	out := extractValue(variables, "variables", &files)
	return out.(map[string]interface{}), files
}

func extractValue(v interface{}, path string, files *[]uploadFile) interface{} {
	switch val := v.(type) {
	case *Upload:
		if val == nil {
			return nil
		}
		*files = append(*files, uploadFile{path: path, upload: val})
		return nil
	case Upload:
		*files = append(*files, uploadFile{path: path, upload: &val})
		return nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = extractValue(item, path+"."+k, files)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = extractValue(item, path+"."+strconv.Itoa(i), files)
		}
		return out
	case []*Upload:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = extractValue(item, path+"."+strconv.Itoa(i), files)
		}
		return out
	default:
		return v
	}
}

// encodeMultipart writes the operations, map and file parts in that order.
func encodeMultipart(body requestBody, files []uploadFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	operations, err := json.Marshal(body)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to marshal operations")
	}
	if err := w.WriteField("operations", string(operations)); err != nil {
		return nil, "", errors.Wrap(err, "failed to write operations")
	}

	fileMap := make(map[string][]string, len(files))
	for i, f := range files {
		fileMap[strconv.Itoa(i)] = []string{f.path}
	}
	mapping, err := json.Marshal(fileMap)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to marshal file map")
	}
	if err := w.WriteField("map", string(mapping)); err != nil {
		return nil, "", errors.Wrap(err, "failed to write file map")
	}

	for i, f := range files {
		filename := f.upload.Filename
		if filename == "" {
			filename = "blob"
		}
		contentType := f.upload.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+strconv.Itoa(i)+`"; filename="`+escapeQuotes(filename)+`"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to create part for %s", f.path)
		}
		if f.upload.File != nil {
			if _, err := io.Copy(part, f.upload.File); err != nil {
				return nil, "", errors.Wrapf(err, "failed to copy file for %s", f.path)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to close multipart writer")
	}
	return buf, w.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
