package permission

// Mask is a fixed-width set of permission bits.
type Mask interface {
	Has(bit int) bool
	Set(bit int)
}
