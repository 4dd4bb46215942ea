package channel

import (
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/werr"
)

// base holds what every channel variant shares: its info, compiled schema,
// lock and open state.
type base struct {
	info   Info
	schema *gojsonschema.Schema

	mu     sync.Mutex
	closed bool
}

func newBase(info Info) (*base, error) {
	if info.Name == "" || !strings.HasPrefix(info.Name, "/") {
		return nil, werr.Protocol("invalid channel name %q", info.Name)
	}
	if len(info.RequestSchema) == 0 {
		return nil, werr.SchemaValidation("%s: request schema is required", info.Name)
	}

	schema, err := CompileSchema(info.RequestSchema)
	if err != nil {
		return nil, err
	}
	if len(info.ResponseSchema) > 0 {
		if _, err := CompileSchema(info.ResponseSchema); err != nil {
			return nil, err
		}
	}
	if info.Authorizers == nil {
		info.Authorizers = auth.Map{}
	}

	return &base{info: info, schema: schema}, nil
}

func (b *base) Info() Info {
	return b.info
}

// isClosed must be called with b.mu held.
func (b *base) isClosed() error {
	if b.closed {
		return werr.Closed("%s", b.info.Name)
	}
	return nil
}

// admitPush runs the checks common to every push. It does not take the lock;
// callers re-check the open state once they hold it.
func (b *base) admitPush(req Request) error {
	b.mu.Lock()
	err := b.isClosed()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	if err := Validate(b.schema, req.Body); err != nil {
		return err
	}
	return b.info.Authorizers.Check(req.Identity, auth.OpPush, b.info.Name)
}

func (b *base) admitPop(req Request) error {
	return b.info.Authorizers.Check(req.Identity, auth.OpPop, b.info.Name)
}
