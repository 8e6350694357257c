// Package grant models the shareable-page-reference contract the
// block transport maps pages through. The real primitive is an
// external collaborator (per the transport's scope, grant tables are
// out of core) — this package only defines the interface the backend
// consumes and a guaranteed-unmap scoping helper, grounded on
// gnttab_stubs.c's map_grant_ref/unmap pairing.
package grant

import "fmt"

// Permission is the access a mapped page is granted.
type Permission int

const (
	PermissionRead      Permission = 1
	PermissionReadWrite Permission = 3
)

// Table is the collaborator that actually maps and unmaps grant
// references into local pages. A real implementation talks to a
// hypervisor grant-table device; tests and the loopback demo use an
// in-process Table over ordinary byte slices.
type Table interface {
	Map(remoteDomid uint16, ref uint32, perm Permission) ([]byte, error)
	Unmap(page []byte) error
}

// WithRef maps ref from remoteDomid with perm, runs body against the
// mapped page, and unmaps it on every exit path — mirroring
// gnttab_stubs.c's stub_xc_gnttab_map_grant_ref/stub_xc_gnttab_unmap
// pairing, where the OCaml finalizer equivalent here is a plain
// defer.
func WithRef(table Table, remoteDomid uint16, ref uint32, perm Permission, body func(page []byte) error) error {
	page, err := table.Map(remoteDomid, ref, perm)
	if err != nil {
		return fmt.Errorf("grant: map ref %d from domid %d: %w", ref, remoteDomid, err)
	}
	defer table.Unmap(page)

	return body(page)
}

// LoopbackTable is an in-process Table that hands out independent
// byte slices keyed by grant reference, for use by tests and the
// single-process frontend+backend demo where there is no real second
// domain to share memory with.
type LoopbackTable struct {
	pages map[uint32][]byte
}

// NewLoopbackTable constructs an empty LoopbackTable. Pages are
// supplied per reference with Register.
func NewLoopbackTable() *LoopbackTable {
	return &LoopbackTable{pages: make(map[uint32][]byte)}
}

// Register associates ref with an existing backing page (typically a
// slice into a frontend's own shared-memory segment), so Map can
// return it to a caller presenting that reference.
func (t *LoopbackTable) Register(ref uint32, page []byte) {
	t.pages[ref] = page
}

func (t *LoopbackTable) Map(remoteDomid uint16, ref uint32, perm Permission) ([]byte, error) {
	page, ok := t.pages[ref]
	if !ok {
		return nil, fmt.Errorf("grant: no page registered for ref %d", ref)
	}
	return page, nil
}

func (t *LoopbackTable) Unmap(page []byte) error {
	return nil
}
