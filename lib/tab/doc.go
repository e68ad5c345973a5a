// Package tab implements the kernel's global handle table: a (mostly)
// lock-free registry that stores any kind of kernel object and hands
// out opaque 64-bit ids ("tabs") for it. Every cross-object reference
// in the kernel - a thread referring to its instance, an instance to
// its ring - goes through this table instead of through raw pointers.
//
// The implementation is lock free except for page allocations: there
// is no contention between cores when inserting, removing, or looking
// up entries, outside of the comparatively rare moments where a new
// backing page has to be materialized.
//
// # ID design details
//
//   - The high bit of every issued id is set, so table-issued ids can
//     never be confused with the kernel's static ids.
//   - Bits 62-29 address the slot: four bit-slices of 9, 9, 9 and 7
//     bits index a lazily populated radix trie whose three upper
//     levels hold 512 entries each and whose leaf holds 128 slots.
//     Every level occupies exactly one 4096-byte page.
//   - Bits 28-0 carry the slot's version, incremented on every reuse
//     of the slot address to defeat ABA hazards. When the version
//     saturates, the slot is permanently retired ("tombstoned") unless
//     the table was created with Options.ZombieTombs, in which case
//     the version wraps to zero and reuse continues at a small
//     long-term ABA risk. Tombstoning is the default.
//   - The first tab materializes four pages; after that a new leaf
//     page is needed every 128th fresh slot address, a new level-2
//     page every 512*128th, and so on.
//
// # Memory leakage
//
// There is a very small chance to leak pages: if an insertion needs
// two or more fresh pages and some of them repeatedly fail to
// allocate (tens of thousands of consecutive failures with no success
// in between), the pages allocated before the failure are not torn
// back down. This is an accepted, documented limitation; a mitigation
// exists but is not worth the complexity until it shows up in
// practice. Likewise, pages whose slots are all tombstoned are not
// yet reclaimed.
package tab
