package reconcile

import (
	"github.com/dshills/whiteboard/internal/scene"
)

// PreviewScope owns preview-layer nodes for one in-progress gesture. The
// nodes never reach the document; End removes them.
//
//	p := r.BeginPreview("resize")
//	defer p.End()
type PreviewScope struct {
	r     *Reconciler
	owner string
	group scene.Node
	ended bool
}

// BeginPreview opens a preview scope for owner. An open scope with the
// same owner is ended first.
func (r *Reconciler) BeginPreview(owner string) *PreviewScope {
	r.mu.Lock()
	old := r.previews[owner]
	r.mu.Unlock()
	if old != nil {
		old.End()
	}

	p := &PreviewScope{r: r, owner: owner}
	if layer := r.graph.Layer(scene.LayerPreview); layer != nil {
		p.group = layer.NewNode(scene.KindGroup)
		p.group.SetKey("")
		layer.Root().Add(p.group)
		r.countNode(scene.LayerPreview, opCreate)
	}

	r.mu.Lock()
	r.previews[owner] = p
	r.mu.Unlock()
	return p
}

// Owner returns the scope's owner tag.
func (p *PreviewScope) Owner() string { return p.owner }

// Active returns false once End has been called.
func (p *PreviewScope) Active() bool { return !p.ended }

// Add creates a node of the given kind in the scope. It returns nil after
// End.
func (p *PreviewScope) Add(kind scene.Kind) scene.Node {
	if p.ended || p.group == nil {
		return nil
	}
	layer := p.r.graph.Layer(scene.LayerPreview)
	n := layer.NewNode(kind)
	p.group.Add(n)
	p.r.countNode(scene.LayerPreview, opCreate)
	p.r.invalidate(scene.LayerPreview)
	return n
}

// Touch marks the preview layer dirty after nodes were patched.
func (p *PreviewScope) Touch() {
	if !p.ended {
		p.r.invalidate(scene.LayerPreview)
	}
}

// Clear destroys the scope's nodes but keeps the scope open.
func (p *PreviewScope) Clear() {
	if p.ended || p.group == nil {
		return
	}
	for _, c := range p.group.Children() {
		c.Destroy()
		p.r.countNode(scene.LayerPreview, opDestroy)
	}
	p.r.invalidate(scene.LayerPreview)
}

// End destroys every node of the scope. It is safe to call more than once.
func (p *PreviewScope) End() {
	if p.ended {
		return
	}
	p.ended = true
	if p.group != nil {
		p.group.Destroy()
		p.r.countNode(scene.LayerPreview, opDestroy)
		p.group = nil
	}
	p.r.mu.Lock()
	if p.r.previews[p.owner] == p {
		delete(p.r.previews, p.owner)
	}
	p.r.mu.Unlock()
	p.r.invalidate(scene.LayerPreview)
}

// ClearPreview ends every open preview scope.
func (r *Reconciler) ClearPreview() {
	r.mu.Lock()
	scopes := make([]*PreviewScope, 0, len(r.previews))
	for _, p := range r.previews {
		scopes = append(scopes, p)
	}
	r.mu.Unlock()
	for _, p := range scopes {
		p.End()
	}
}

// Previews returns the number of open preview scopes.
func (r *Reconciler) Previews() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.previews)
}
