// internal/browser/attach.go
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// ErrNoDropTarget is returned when neither a file input nor a drop surface exists.
var ErrNoDropTarget = errors.New("no file input or drop target on the page")

// Attacher hands media blobs to a page. It prefers the first enabled file input whose
// accept list covers every blob and falls back to a synthetic drop on the compose
// surface.
type Attacher struct {
	page    *Page
	tempDir string
	logger  *zap.Logger
}

// NewAttacher binds an Attacher to page. Spooled files live under tempDir (the system
// temp dir when empty) until the page is released.
func NewAttacher(page *Page, tempDir string, logger *zap.Logger) *Attacher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attacher{page: page, tempDir: tempDir, logger: logger.Named("attacher")}
}

type fileInput struct {
	Ref      string `json:"ref"`
	Accept   string `json:"accept"`
	Multiple bool   `json:"multiple"`
	Disabled bool   `json:"disabled"`
}

const listFileInputsScript = `(function(prefix) {
  const out = [];
  document.querySelectorAll('input[type=file]').forEach((input, i) => {
    const ref = prefix + '-' + i;
    input.setAttribute('data-herald-upload', ref);
    out.push({ ref: ref, accept: input.getAttribute('accept') || '', multiple: !!input.multiple, disabled: !!input.disabled });
  });
  return out;
})(%q)`

const dropScript = `(function(sel, files) {
  const target = (sel && document.querySelector(sel)) || document.querySelector('[contenteditable="true"]') || document.body;
  if (!target) return 0;
  const dt = new DataTransfer();
  for (const f of files) {
    const bin = atob(f.data);
    const bytes = new Uint8Array(bin.length);
    for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
    dt.items.add(new File([bytes], f.name, { type: f.type }));
  }
  for (const type of ['dragenter', 'dragover', 'drop']) {
    target.dispatchEvent(new DragEvent(type, { bubbles: true, cancelable: true, dataTransfer: dt }));
  }
  return dt.files.length;
})(%s, %s)`

type dropFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// Attach implements the dispatcher's MediaAttacher.
func (a *Attacher) Attach(ctx context.Context, blobs []media.Blob, dropTarget *resolver.Element) error {
	if len(blobs) == 0 {
		return nil
	}

	var inputs []fileInput
	script := fmt.Sprintf(listFileInputsScript, "u"+uuid.NewString()[:8])
	if err := a.page.Evaluate(ctx, script, &inputs); err != nil {
		return fmt.Errorf("failed to inspect file inputs: %w", err)
	}

	if in := pickFileInput(inputs, blobs); in != nil {
		return a.upload(ctx, *in, blobs)
	}
	a.logger.Debug("No compatible file input, dropping media instead.", zap.Int("inputs", len(inputs)))
	return a.drop(ctx, blobs, dropTarget)
}

func (a *Attacher) upload(ctx context.Context, in fileInput, blobs []media.Blob) error {
	dir := a.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	paths, cleanup, err := media.Spool(dir, blobs)
	if err != nil {
		return err
	}
	// The page reads the files lazily, possibly after the post is submitted.
	a.page.addCleanup(cleanup)

	sel := fmt.Sprintf(`input[data-herald-upload=%q]`, in.Ref)
	if err := a.page.Run(ctx, chromedp.SetUploadFiles(sel, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to set upload files: %w", err)
	}
	a.logger.Debug("Attached media through file input.", zap.Int("files", len(paths)), zap.String("input", in.Ref))
	return nil
}

func (a *Attacher) drop(ctx context.Context, blobs []media.Blob, dropTarget *resolver.Element) error {
	files := make([]dropFile, 0, len(blobs))
	for _, b := range blobs {
		files = append(files, dropFile{Name: b.Name, Type: b.MIMEType, Data: base64.StdEncoding.EncodeToString(b.Data)})
	}
	sel := ""
	if dropTarget != nil {
		sel = dropTarget.Selector
	}
	expr, err := fillArgs(dropScript, sel, files)
	if err != nil {
		return err
	}
	var dropped int
	if err := a.page.Evaluate(ctx, expr, &dropped); err != nil {
		return fmt.Errorf("failed to drop media: %w", err)
	}
	if dropped == 0 {
		return ErrNoDropTarget
	}
	a.logger.Debug("Dropped media onto compose surface.", zap.Int("files", dropped))
	return nil
}

// fillArgs substitutes JSON-encoded arguments into a "%s" script template.
func fillArgs(tmpl string, args ...interface{}) (string, error) {
	encoded := make([]interface{}, len(args))
	for i, arg := range args {
		b, err := jsoniter.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(tmpl, encoded...), nil
}

// pickFileInput returns the first enabled input that accepts every blob.
func pickFileInput(inputs []fileInput, blobs []media.Blob) *fileInput {
	for i := range inputs {
		in := inputs[i]
		if in.Disabled || (len(blobs) > 1 && !in.Multiple) {
			continue
		}
		ok := true
		for _, b := range blobs {
			if !acceptMatches(in.Accept, b) {
				ok = false
				break
			}
		}
		if ok {
			return &inputs[i]
		}
	}
	return nil
}

// acceptMatches applies an <input accept> list to a blob: MIME types, "type/*"
// wildcards and ".ext" suffixes.
func acceptMatches(accept string, b media.Blob) bool {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return true
	}
	mimeType := strings.ToLower(b.MIMEType)
	ext := strings.ToLower(filepath.Ext(b.Name))
	for _, token := range strings.Split(accept, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		switch {
		case token == "":
			continue
		case token == "*/*" || token == mimeType:
			return true
		case strings.HasSuffix(token, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(token, "*")):
			return true
		case strings.HasPrefix(token, "."):
			if token == ext {
				return true
			}
			if exts, _ := mime.ExtensionsByType(mimeType); containsString(exts, token) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
