package ir

// BasicBlock is a straight-line sequence of instructions ending in exactly
// one terminator (br, ret), per spec.md §8 property 5.
type BasicBlock struct {
	Name  string
	Insts []*Instruction
	Func  *Function
}

// Append adds inst at the end of the block.
func (b *BasicBlock) Append(inst *Instruction) {
	inst.Parent = b
	b.Insts = append(b.Insts, inst)
}

// InsertAfter inserts inst immediately after cursor within b, returning the
// new cursor (inst itself). cursor must belong to b.
func (b *BasicBlock) InsertAfter(cursor, inst *Instruction) *Instruction {
	inst.Parent = b
	for i, existing := range b.Insts {
		if existing == cursor {
			b.Insts = append(b.Insts, nil)
			copy(b.Insts[i+2:], b.Insts[i+1:])
			b.Insts[i+1] = inst
			return inst
		}
	}
	// cursor not found: append defensively rather than silently dropping
	// the instruction, since every marshaller call threads a cursor that
	// must already live in this block.
	b.Append(inst)
	return inst
}

// InsertBefore inserts inst immediately before cursor within b.
func (b *BasicBlock) InsertBefore(cursor, inst *Instruction) {
	inst.Parent = b
	for i, existing := range b.Insts {
		if existing == cursor {
			b.Insts = append(b.Insts, nil)
			copy(b.Insts[i+1:], b.Insts[i:])
			b.Insts[i] = inst
			return
		}
	}
	b.Insts = append([]*Instruction{inst}, b.Insts...)
}

// Remove deletes inst from b.
func (b *BasicBlock) Remove(inst *Instruction) {
	for i, existing := range b.Insts {
		if existing == inst {
			b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
			return
		}
	}
}

// IndexOf returns the position of inst in b, or -1.
func (b *BasicBlock) IndexOf(inst *Instruction) int {
	for i, existing := range b.Insts {
		if existing == inst {
			return i
		}
	}
	return -1
}

// Function is a sequence of basic blocks with a name and signature.
type Function struct {
	Name    string
	Sig     *FuncType
	Params  []*Param
	Blocks  []*BasicBlock
	Module  *Module
}

// Entry returns the first basic block, or nil if the function is a
// declaration only.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}
