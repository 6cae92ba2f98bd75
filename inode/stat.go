package inode

// StatT mirrors an inode's externally visible metadata, adapted from
// biscuit's stat package (Stat_t's Wino/Wmode/Wsize setter
// pattern) down to the three fields this layer actually tracks: there
// is no uid/rdev/device-major story without directories or device
// nodes, which are out of scope here.
type StatT struct {
	ino  uint32
	kind Kind
	size uint32
}

func (st *StatT) Wino(v uint32)  { st.ino = v }
func (st *StatT) Wkind(v Kind)   { st.kind = v }
func (st *StatT) Wsize(v uint32) { st.size = v }

func (st *StatT) Ino() uint32  { return st.ino }
func (st *StatT) Kind() Kind   { return st.kind }
func (st *StatT) Size() uint32 { return st.size }

// Stat fills in a StatT describing ino's current sector, kind, and
// length.
func (ino *Inode) Stat(st *StatT) {
	st.Wino(ino.GetInumber())
	st.Wkind(ino.Kind())
	st.Wsize(ino.Length())
}
