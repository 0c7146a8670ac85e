package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// frameOwner is an iframe element resolved through the DOM domain.
type frameOwner struct {
	origin schemas.Point
	// doc is the frame document when it lives in the tab's renderer.
	doc cdp.BackendNodeID
	// frameID names the out-of-process frame target when doc is unset.
	frameID cdp.FrameID
}

// inFrame evaluates expr in the document of the first iframe matching
// frameSelector and decodes the result into res. The DOM domain hands out
// frame documents whatever their origin; frames rendered in another process
// are attached as their own targets. It reports whether a frame matched and
// the frame's content origin in top-level viewport coordinates.
func (s *Surface) inFrame(ctx context.Context, frameSelector, expr string, res any) (schemas.Point, bool, error) {
	var (
		owner *frameOwner
		done  bool
	)
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		if owner, err = resolveOwner(ctx, frameSelector); err != nil || owner == nil {
			return err
		}
		if owner.doc == 0 {
			return nil
		}
		done = true
		return callOnNode(ctx, owner.doc, expr, res)
	}))
	switch {
	case err != nil:
		return schemas.Point{}, owner != nil, fmt.Errorf("frame %q: %w", frameSelector, err)
	case owner == nil:
		return schemas.Point{}, false, nil
	case done:
		return owner.origin, true, nil
	case owner.frameID == "":
		return owner.origin, true, fmt.Errorf("%w: %s", ErrFrameInaccessible, frameSelector)
	}

	id := target.ID(owner.frameID)
	fctx := s.frameTarget(id)
	if err := s.runOn(fctx, ctx, chromedp.Evaluate(expr, res)); err != nil {
		s.dropFrameTarget(id)
		return owner.origin, true, fmt.Errorf("%w: %s: %v", ErrFrameInaccessible, frameSelector, err)
	}
	return owner.origin, true, nil
}

// resolveOwner returns nil when nothing matches selector.
func resolveOwner(ctx context.Context, selector string) (*frameOwner, error) {
	var nodes []*cdp.Node
	if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)).Do(ctx); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	desc, err := dom.DescribeNode().WithNodeID(nodes[0].NodeID).WithDepth(1).WithPierce(true).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("describing frame owner: %w", err)
	}
	origin, err := contentOrigin(ctx, nodes[0].NodeID)
	if err != nil {
		return nil, err
	}
	owner := &frameOwner{origin: origin, frameID: desc.FrameID}
	if desc.ContentDocument != nil {
		owner.doc = desc.ContentDocument.BackendNodeID
	}
	return owner, nil
}

// contentOrigin is the top-left corner of the node's content box.
func contentOrigin(ctx context.Context, id cdp.NodeID) (schemas.Point, error) {
	box, err := dom.GetBoxModel().WithNodeID(id).Do(ctx)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("frame box: %w", err)
	}
	q := box.Content
	if len(q) < 8 {
		return schemas.Point{}, errors.New("frame has no content box")
	}
	p := schemas.Point{X: q[0], Y: q[1]}
	for i := 2; i < 8; i += 2 {
		p.X = min(p.X, q[i])
		p.Y = min(p.Y, q[i+1])
	}
	return p, nil
}

// callOnNode runs expr in the execution context that owns node.
func callOnNode(ctx context.Context, node cdp.BackendNodeID, expr string, res any) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(node).Do(ctx)
	if err != nil {
		return fmt.Errorf("resolving frame document: %w", err)
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	out, exc, err := runtime.CallFunctionOn(asFunction(expr)).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return exc
	}
	if res == nil || out == nil || len(out.Value) == 0 {
		return nil
	}
	return json.Unmarshal(out.Value, res)
}

// frameTarget returns a chromedp context attached to an out-of-process frame.
// Contexts are kept until the frame fails or the surface closes.
func (s *Surface) frameTarget(id target.ID) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frames[id]; ok {
		return f.ctx
	}
	if s.frames == nil {
		s.frames = make(map[target.ID]attachedFrame)
	}
	fctx, cancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(id))
	s.frames[id] = attachedFrame{ctx: fctx, cancel: cancel}
	s.logger.Debug("Attached to frame target", zap.String("target", string(id)))
	return fctx
}

func (s *Surface) dropFrameTarget(id target.ID) {
	s.mu.Lock()
	f, ok := s.frames[id]
	delete(s.frames, id)
	s.mu.Unlock()
	if ok {
		f.cancel()
	}
}

type attachedFrame struct {
	ctx    context.Context
	cancel context.CancelFunc
}
