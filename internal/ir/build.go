// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package ir

import (
	"fmt"
	"math"

	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/luaast"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
)

// Options is the set of parameters to [Build].
type Options struct {
	Dialect dialect.Dialect
	// Guards places integrity checks at the start of the main function
	// and a timing check at every loop head.
	Guards bool
	// CheckOrder is the order of the checks at the start of the main function.
	// If nil, [CheckKinds] order is used.
	CheckOrder []CheckKind
}

const (
	// maxLocals is the number of local slots addressable by a one-byte operand.
	maxLocals = 256
	// maxFixedArgs is the largest fixed argument count of a call.
	// The high bit of the operand marks a variadic tail.
	maxFixedArgs = 127
)

// Build lowers a parsed chunk into IR.
// The returned function is the main function of the chunk:
// it is vararg and ends with [OpHalt].
func Build(name string, block *luaast.Block, opts *Options) (*Function, error) {
	if !opts.Dialect.IsValid() {
		return nil, fmt.Errorf("build %s: invalid dialect %v", name, opts.Dialect)
	}
	b := &builder{
		name: name,
		opts: opts,
		feat: opts.Dialect.Features(),
	}
	fs := b.newFuncState(nil, &Function{
		Name:      "main",
		IsVararg:  true,
		NumParams: 0,
	})
	fs.enterBlock()
	if opts.Guards {
		order := opts.CheckOrder
		if order == nil {
			order = CheckKinds()
		}
		for _, k := range order {
			fs.emit(Instruction{Op: OpCheck, A: int(k)})
		}
	}
	if err := fs.stmts(block.Stmts); err != nil {
		return nil, err
	}
	if err := fs.leaveBlock(); err != nil {
		return nil, err
	}
	fs.emit(Instruction{Op: OpHalt})
	return fs.fn, nil
}

type builder struct {
	name string
	opts *Options
	feat dialect.Features
}

func (b *builder) errorf(pos lualex.Position, format string, args ...any) error {
	return &lualex.SyntaxError{
		Source:   b.name,
		Position: pos,
		Msg:      fmt.Sprintf(format, args...),
	}
}

// funcState is the in-progress state of one function.
type funcState struct {
	b      *builder
	parent *funcState
	fn     *Function

	actives   []*variable
	blocks    []*blockScope
	freeSlot  int
	upvals    map[*variable]int
	consts    map[luavalue.Value]int
	loops     []loopLabels
	nextLabel int
	line      int
}

// variable is a local variable declaration.
// Upvalues are deduplicated by variable identity.
type variable struct {
	name string
	slot int
	fs   *funcState
}

type blockScope struct {
	firstActive int
	firstFree   int
	labels      map[string]labelInfo
	gotos       []pendingGoto
}

type labelInfo struct {
	id      int
	line    int
	nactive int
}

type pendingGoto struct {
	name    string
	pc      int
	pos     lualex.Position
	nactive int
}

type loopLabels struct {
	breakLabel    int
	continueLabel int
}

func (b *builder) newFuncState(parent *funcState, fn *Function) *funcState {
	return &funcState{
		b:      b,
		parent: parent,
		fn:     fn,
		upvals: make(map[*variable]int),
		consts: make(map[luavalue.Value]int),
	}
}

func (fs *funcState) emit(inst Instruction) int {
	inst.Line = fs.line
	fs.fn.Code = append(fs.fn.Code, inst)
	return len(fs.fn.Code) - 1
}

func (fs *funcState) emitOp(op Op, a int) {
	fs.emit(Instruction{Op: op, A: a})
}

func (fs *funcState) newLabel() int {
	fs.nextLabel++
	return fs.nextLabel
}

func (fs *funcState) placeLabel(id int) {
	fs.emit(Instruction{Op: OpLabel, Label: id})
}

func (fs *funcState) jump(op Op, label int) int {
	return fs.emit(Instruction{Op: op, Label: label})
}

func (fs *funcState) constant(v luavalue.Value) int {
	if i, ok := fs.consts[v]; ok {
		return i
	}
	i := len(fs.fn.Constants)
	fs.fn.Constants = append(fs.fn.Constants, Constant{Kind: ValueConstant, Value: v})
	fs.consts[v] = i
	return i
}

// pushValue emits the cheapest instruction that pushes v.
func (fs *funcState) pushValue(v luavalue.Value) {
	if inst, ok := immediate(v, fs.b.feat.Integers); ok {
		fs.emit(inst)
		return
	}
	fs.emitOp(OpLoadConst, fs.constant(v))
}

// immediate returns an instruction that pushes v without a constant,
// if there is one.
// Without an integer subtype, integral floats are pushed as immediates.
func immediate(v luavalue.Value, integers bool) (Instruction, bool) {
	switch v.Kind() {
	case luavalue.NilKind:
		return Instruction{Op: OpLoadNil, A: 1}, true
	case luavalue.BooleanKind:
		if v.Truthy() {
			return Instruction{Op: OpLoadTrue}, true
		}
		return Instruction{Op: OpLoadFalse}, true
	case luavalue.IntegerKind:
		i, _ := v.Int64()
		if math.MinInt32 <= i && i <= math.MaxInt32 {
			return Instruction{Op: OpLoadInt, A: int(i)}, true
		}
	case luavalue.FloatKind:
		if integers {
			return Instruction{}, false
		}
		f, _ := v.Float64()
		if f == 0 && math.Signbit(f) {
			return Instruction{}, false
		}
		if i, ok := luavalue.FloatToInteger(f); ok && math.MinInt32 <= i && i <= math.MaxInt32 {
			return Instruction{Op: OpLoadInt, A: int(i)}, true
		}
	}
	return Instruction{}, false
}

func (fs *funcState) allocSlot(pos lualex.Position) (int, error) {
	if fs.freeSlot >= maxLocals {
		return 0, fs.b.errorf(pos, "too many local variables in function %s", fs.fn.Name)
	}
	slot := fs.freeSlot
	fs.freeSlot++
	fs.fn.NumLocals = max(fs.fn.NumLocals, fs.freeSlot)
	return slot, nil
}

func (fs *funcState) activate(name string, slot int) {
	fs.actives = append(fs.actives, &variable{name: name, slot: slot, fs: fs})
}

func (fs *funcState) enterBlock() {
	fs.blocks = append(fs.blocks, &blockScope{
		firstActive: len(fs.actives),
		firstFree:   fs.freeSlot,
		labels:      make(map[string]labelInfo),
	})
}

// leaveBlock closes the innermost block, releasing its slots.
// Unresolved gotos move to the enclosing block,
// and are an error if the block is the function's outermost.
func (fs *funcState) leaveBlock() error {
	bl := fs.blocks[len(fs.blocks)-1]
	fs.blocks = fs.blocks[:len(fs.blocks)-1]
	fs.actives = fs.actives[:bl.firstActive]
	fs.freeSlot = bl.firstFree
	if len(bl.gotos) == 0 {
		return nil
	}
	if len(fs.blocks) == 0 {
		g := bl.gotos[0]
		return fs.b.errorf(g.pos, "no visible label '%s' for goto", g.name)
	}
	parent := fs.blocks[len(fs.blocks)-1]
	for _, g := range bl.gotos {
		g.nactive = min(g.nactive, bl.firstActive)
		parent.gotos = append(parent.gotos, g)
	}
	return nil
}

type refKind int

const (
	globalRef refKind = iota
	localRef
	upvalueRef
)

// resolve finds the variable that a name refers to.
// For globals, the index is the constant holding the name.
func (fs *funcState) resolve(name string) (refKind, int) {
	if v := fs.findActive(name); v != nil {
		return localRef, v.slot
	}
	for anc := fs.parent; anc != nil; anc = anc.parent {
		if v := anc.findActive(name); v != nil {
			return upvalueRef, fs.upvalueIndex(v)
		}
	}
	return globalRef, fs.constant(luavalue.String(name))
}

func (fs *funcState) findActive(name string) *variable {
	for i := len(fs.actives) - 1; i >= 0; i-- {
		if fs.actives[i].name == name {
			return fs.actives[i]
		}
	}
	return nil
}

// upvalueIndex returns the index of the upvalue capturing v,
// adding it and any intermediate upvalues as needed.
func (fs *funcState) upvalueIndex(v *variable) int {
	if i, ok := fs.upvals[v]; ok {
		return i
	}
	desc := UpvalueDesc{Name: v.name}
	if v.fs == fs.parent {
		desc.FromParentLocal = true
		desc.Index = v.slot
	} else {
		desc.Index = fs.parent.upvalueIndex(v)
	}
	i := len(fs.fn.Upvalues)
	fs.fn.Upvalues = append(fs.fn.Upvalues, desc)
	fs.upvals[v] = i
	return i
}

func (fs *funcState) load(name string) {
	switch kind, i := fs.resolve(name); kind {
	case localRef:
		fs.emitOp(OpGetLocal, i)
	case upvalueRef:
		fs.emitOp(OpGetUpval, i)
	default:
		fs.emitOp(OpGetGlobal, i)
	}
}

func (fs *funcState) store(name string) {
	switch kind, i := fs.resolve(name); kind {
	case localRef:
		fs.emitOp(OpSetLocal, i)
	case upvalueRef:
		fs.emitOp(OpSetUpval, i)
	default:
		fs.emitOp(OpSetGlobal, i)
	}
}

func (fs *funcState) stmts(list []luaast.Stmt) error {
	for i, s := range list {
		if err := fs.stmt(s, onlyLabels(list[i+1:])); err != nil {
			return err
		}
	}
	return nil
}

// onlyLabels reports whether a statement list has nothing but labels,
// in which case a preceding label is considered outside the scope
// of the block's locals.
func onlyLabels(list []luaast.Stmt) bool {
	for _, s := range list {
		if _, ok := s.(*luaast.LabelStmt); !ok {
			return false
		}
	}
	return true
}

func (fs *funcState) stmt(s luaast.Stmt, atBlockEnd bool) error {
	fs.line = s.Pos().Line
	switch s := s.(type) {
	case *luaast.LocalStmt:
		return fs.localStmt(s)
	case *luaast.AssignStmt:
		return fs.assignStmt(s)
	case *luaast.CompoundAssignStmt:
		return fs.compoundAssignStmt(s)
	case *luaast.CallStmt:
		if err := fs.call(s.Call, OpCall); err != nil {
			return err
		}
		fs.emitOp(OpAdjust, 0)
		return nil
	case *luaast.DoStmt:
		fs.enterBlock()
		if err := fs.stmts(s.Body.Stmts); err != nil {
			return err
		}
		return fs.leaveBlock()
	case *luaast.IfStmt:
		return fs.ifStmt(s)
	case *luaast.WhileStmt:
		return fs.whileStmt(s)
	case *luaast.RepeatStmt:
		return fs.repeatStmt(s)
	case *luaast.NumericForStmt:
		return fs.numericFor(s)
	case *luaast.GenericForStmt:
		return fs.genericFor(s)
	case *luaast.FunctionDeclStmt:
		return fs.functionDecl(s)
	case *luaast.LocalFunctionStmt:
		slot, err := fs.allocSlot(s.Position)
		if err != nil {
			return err
		}
		fs.activate(s.Name, slot)
		fs.emitOp(OpLoadNil, 1)
		fs.emitOp(OpInitLocal, slot)
		k, err := fs.function(s.Func)
		if err != nil {
			return err
		}
		fs.emitOp(OpClosure, k)
		fs.emitOp(OpSetLocal, slot)
		return nil
	case *luaast.ReturnStmt:
		return fs.returnStmt(s)
	case *luaast.BreakStmt:
		if len(fs.loops) == 0 {
			return fs.b.errorf(s.Position, "break outside a loop")
		}
		fs.jump(OpJump, fs.loops[len(fs.loops)-1].breakLabel)
		return nil
	case *luaast.ContinueStmt:
		if len(fs.loops) == 0 {
			return fs.b.errorf(s.Position, "continue outside a loop")
		}
		fs.jump(OpJump, fs.loops[len(fs.loops)-1].continueLabel)
		return nil
	case *luaast.GotoStmt:
		return fs.gotoStmt(s)
	case *luaast.LabelStmt:
		return fs.labelStmt(s, atBlockEnd)
	default:
		return fmt.Errorf("build %s: unhandled statement %T", fs.b.name, s)
	}
}

func (fs *funcState) localStmt(s *luaast.LocalStmt) error {
	if err := fs.exprList(s.Exprs, len(s.Names)); err != nil {
		return err
	}
	slots := make([]int, len(s.Names))
	for i := range slots {
		var err error
		slots[i], err = fs.allocSlot(s.Position)
		if err != nil {
			return err
		}
	}
	for i := len(slots) - 1; i >= 0; i-- {
		fs.emitOp(OpInitLocal, slots[i])
	}
	for i, name := range s.Names {
		fs.activate(name, slots[i])
	}
	return nil
}

func (fs *funcState) assignStmt(s *luaast.AssignStmt) error {
	if len(s.Targets) == 1 && len(s.Exprs) == 1 {
		switch t := s.Targets[0].(type) {
		case *luaast.IdentifierExpr:
			if err := fs.expr(s.Exprs[0]); err != nil {
				return err
			}
			fs.store(t.Name)
			return nil
		case *luaast.MemberAccessExpr, *luaast.IndexAccessExpr:
			if err := fs.indexTarget(t); err != nil {
				return err
			}
			if err := fs.expr(s.Exprs[0]); err != nil {
				return err
			}
			fs.emit(Instruction{Op: OpSetIndex})
			return nil
		}
	}

	// Evaluate the table and key of every indexed target into hidden locals
	// before evaluating the right-hand side.
	type hidden struct{ obj, key int }
	saved := fs.freeSlot
	holders := make([]hidden, len(s.Targets))
	for i, t := range s.Targets {
		switch t.(type) {
		case *luaast.MemberAccessExpr, *luaast.IndexAccessExpr:
			if err := fs.indexTarget(t); err != nil {
				return err
			}
			obj, err := fs.allocSlot(t.Pos())
			if err != nil {
				return err
			}
			key, err := fs.allocSlot(t.Pos())
			if err != nil {
				return err
			}
			fs.emitOp(OpInitLocal, key)
			fs.emitOp(OpInitLocal, obj)
			holders[i] = hidden{obj, key}
		case *luaast.IdentifierExpr:
		default:
			return fmt.Errorf("build %s: cannot assign to %T", fs.b.name, t)
		}
	}
	if err := fs.exprList(s.Exprs, len(s.Targets)); err != nil {
		return err
	}
	for i := len(s.Targets) - 1; i >= 0; i-- {
		switch t := s.Targets[i].(type) {
		case *luaast.IdentifierExpr:
			fs.store(t.Name)
		default:
			fs.emitOp(OpGetLocal, holders[i].obj)
			fs.emitOp(OpGetLocal, holders[i].key)
			fs.emit(Instruction{Op: OpRot3})
			fs.emit(Instruction{Op: OpSetIndex})
		}
	}
	fs.freeSlot = saved
	return nil
}

// indexTarget pushes the object and key of an indexed expression.
func (fs *funcState) indexTarget(e luaast.Expr) error {
	switch e := e.(type) {
	case *luaast.MemberAccessExpr:
		if err := fs.expr(e.Object); err != nil {
			return err
		}
		fs.pushValue(luavalue.String(e.Name))
	case *luaast.IndexAccessExpr:
		if err := fs.expr(e.Object); err != nil {
			return err
		}
		if err := fs.expr(e.Key); err != nil {
			return err
		}
	default:
		return fmt.Errorf("build %s: %T is not an index expression", fs.b.name, e)
	}
	return nil
}

func (fs *funcState) compoundAssignStmt(s *luaast.CompoundAssignStmt) error {
	op, ok := binaryOps[s.Op]
	if !ok {
		return fmt.Errorf("build %s: invalid compound operator %v", fs.b.name, s.Op)
	}
	switch t := s.Target.(type) {
	case *luaast.IdentifierExpr:
		fs.load(t.Name)
		if err := fs.expr(s.Value); err != nil {
			return err
		}
		fs.emit(Instruction{Op: op})
		fs.store(t.Name)
	default:
		if err := fs.indexTarget(t); err != nil {
			return err
		}
		fs.emitOp(OpPick, 1)
		fs.emitOp(OpPick, 1)
		fs.emit(Instruction{Op: OpGetIndex})
		if err := fs.expr(s.Value); err != nil {
			return err
		}
		fs.emit(Instruction{Op: op})
		fs.emit(Instruction{Op: OpSetIndex})
	}
	return nil
}

func (fs *funcState) ifStmt(s *luaast.IfStmt) error {
	end := fs.newLabel()
	for i, clause := range s.Clauses {
		fs.line = clause.Cond.Pos().Line
		if err := fs.expr(clause.Cond); err != nil {
			return err
		}
		next := fs.newLabel()
		fs.jump(OpJumpIfFalse, next)
		fs.enterBlock()
		if err := fs.stmts(clause.Body.Stmts); err != nil {
			return err
		}
		if err := fs.leaveBlock(); err != nil {
			return err
		}
		if i < len(s.Clauses)-1 || s.Else != nil {
			fs.jump(OpJump, end)
		}
		fs.placeLabel(next)
	}
	if s.Else != nil {
		fs.enterBlock()
		if err := fs.stmts(s.Else.Stmts); err != nil {
			return err
		}
		if err := fs.leaveBlock(); err != nil {
			return err
		}
	}
	fs.placeLabel(end)
	return nil
}

// loopHead places a loop's head label and its timing check.
func (fs *funcState) loopHead(label int) {
	fs.placeLabel(label)
	if fs.b.opts.Guards {
		fs.emit(Instruction{Op: OpTimingCheck})
	}
}

func (fs *funcState) loopBody(body *luaast.Block, labels loopLabels) error {
	fs.loops = append(fs.loops, labels)
	fs.enterBlock()
	if err := fs.stmts(body.Stmts); err != nil {
		return err
	}
	if err := fs.leaveBlock(); err != nil {
		return err
	}
	fs.loops = fs.loops[:len(fs.loops)-1]
	return nil
}

func (fs *funcState) whileStmt(s *luaast.WhileStmt) error {
	head, exit := fs.newLabel(), fs.newLabel()
	fs.loopHead(head)
	if err := fs.expr(s.Cond); err != nil {
		return err
	}
	fs.jump(OpJumpIfFalse, exit)
	if err := fs.loopBody(s.Body, loopLabels{breakLabel: exit, continueLabel: head}); err != nil {
		return err
	}
	fs.jump(OpJump, head)
	fs.placeLabel(exit)
	return nil
}

func (fs *funcState) repeatStmt(s *luaast.RepeatStmt) error {
	head, cont, exit := fs.newLabel(), fs.newLabel(), fs.newLabel()
	fs.loopHead(head)
	fs.loops = append(fs.loops, loopLabels{breakLabel: exit, continueLabel: cont})
	// The condition sees the body's locals.
	fs.enterBlock()
	if err := fs.stmts(s.Body.Stmts); err != nil {
		return err
	}
	fs.placeLabel(cont)
	fs.line = s.Cond.Pos().Line
	if err := fs.expr(s.Cond); err != nil {
		return err
	}
	fs.jump(OpJumpIfFalse, head)
	if err := fs.leaveBlock(); err != nil {
		return err
	}
	fs.loops = fs.loops[:len(fs.loops)-1]
	fs.placeLabel(exit)
	return nil
}

func (fs *funcState) numericFor(s *luaast.NumericForStmt) error {
	fs.enterBlock()
	if err := fs.expr(s.Start); err != nil {
		return err
	}
	if err := fs.expr(s.Limit); err != nil {
		return err
	}
	if s.Step != nil {
		if err := fs.expr(s.Step); err != nil {
			return err
		}
	} else {
		fs.emitOp(OpLoadInt, 1)
	}
	var hidden [3]int
	for i := range hidden {
		var err error
		hidden[i], err = fs.allocSlot(s.Position)
		if err != nil {
			return err
		}
	}
	value, limit, step := hidden[0], hidden[1], hidden[2]
	fs.emitOp(OpInitLocal, step)
	fs.emitOp(OpInitLocal, limit)
	fs.emitOp(OpInitLocal, value)

	head, cont, exit := fs.newLabel(), fs.newLabel(), fs.newLabel()
	fs.loopHead(head)
	fs.emitOp(OpGetLocal, value)
	fs.emitOp(OpGetLocal, limit)
	fs.emitOp(OpGetLocal, step)
	fs.jump(OpForLoop, exit)

	fs.loops = append(fs.loops, loopLabels{breakLabel: exit, continueLabel: cont})
	fs.enterBlock()
	// Each iteration gets a fresh cell for the visible variable.
	slot, err := fs.allocSlot(s.Position)
	if err != nil {
		return err
	}
	fs.emitOp(OpGetLocal, value)
	fs.emitOp(OpInitLocal, slot)
	fs.activate(s.Var, slot)
	if err := fs.stmts(s.Body.Stmts); err != nil {
		return err
	}
	if err := fs.leaveBlock(); err != nil {
		return err
	}
	fs.loops = fs.loops[:len(fs.loops)-1]

	fs.line = s.Position.Line
	fs.placeLabel(cont)
	fs.emitOp(OpGetLocal, value)
	fs.emitOp(OpGetLocal, step)
	fs.emit(Instruction{Op: OpAdd})
	fs.emitOp(OpSetLocal, value)
	fs.jump(OpJump, head)
	fs.placeLabel(exit)
	return fs.leaveBlock()
}

func (fs *funcState) genericFor(s *luaast.GenericForStmt) error {
	fs.enterBlock()
	if err := fs.exprList(s.Exprs, 3); err != nil {
		return err
	}
	var hidden [3]int
	for i := range hidden {
		var err error
		hidden[i], err = fs.allocSlot(s.Position)
		if err != nil {
			return err
		}
	}
	iter, state, control := hidden[0], hidden[1], hidden[2]
	fs.emitOp(OpInitLocal, control)
	fs.emitOp(OpInitLocal, state)
	fs.emitOp(OpInitLocal, iter)

	head, exit := fs.newLabel(), fs.newLabel()
	fs.loopHead(head)

	fs.loops = append(fs.loops, loopLabels{breakLabel: exit, continueLabel: head})
	fs.enterBlock()
	for i, name := range s.Names {
		slot, err := fs.allocSlot(s.Position)
		if err != nil {
			return err
		}
		if slot != control+1+i {
			return fmt.Errorf("build %s: loop variable %s in slot %d, want %d", fs.b.name, name, slot, control+1+i)
		}
	}
	fs.emit(Instruction{Op: OpTForCall, A: iter, B: state, C: control, D: len(s.Names)})
	fs.jump(OpJumpIfNil, exit)
	for i, name := range s.Names {
		fs.activate(name, control+1+i)
	}
	if err := fs.stmts(s.Body.Stmts); err != nil {
		return err
	}
	if err := fs.leaveBlock(); err != nil {
		return err
	}
	fs.loops = fs.loops[:len(fs.loops)-1]

	fs.line = s.Position.Line
	fs.jump(OpJump, head)
	fs.placeLabel(exit)
	return fs.leaveBlock()
}

func (fs *funcState) functionDecl(s *luaast.FunctionDeclStmt) error {
	if len(s.Path) == 1 && s.Method == "" {
		k, err := fs.function(s.Func)
		if err != nil {
			return err
		}
		fs.emitOp(OpClosure, k)
		fs.store(s.Path[0])
		return nil
	}
	keys := s.Path[1:]
	if s.Method != "" {
		keys = append(keys[:len(keys):len(keys)], s.Method)
	}
	fs.load(s.Path[0])
	for _, key := range keys[:len(keys)-1] {
		fs.pushValue(luavalue.String(key))
		fs.emit(Instruction{Op: OpGetIndex})
	}
	fs.pushValue(luavalue.String(keys[len(keys)-1]))
	k, err := fs.function(s.Func)
	if err != nil {
		return err
	}
	fs.emitOp(OpClosure, k)
	fs.emit(Instruction{Op: OpSetIndex})
	return nil
}

// function builds a nested function and returns its constant index.
func (fs *funcState) function(f *luaast.FunctionExpr) (int, error) {
	name := f.Name
	if name == "" {
		name = fmt.Sprintf("%s:%d", fs.b.name, f.Position.Line)
	}
	child := fs.b.newFuncState(fs, &Function{
		Name:        name,
		LineDefined: f.Position.Line,
		NumParams:   len(f.Params),
		IsVararg:    f.IsVararg,
	})
	child.line = f.Position.Line
	child.enterBlock()
	for _, param := range f.Params {
		slot, err := child.allocSlot(f.Position)
		if err != nil {
			return 0, err
		}
		child.activate(param, slot)
	}
	if err := child.stmts(f.Body.Stmts); err != nil {
		return 0, err
	}
	if err := child.leaveBlock(); err != nil {
		return 0, err
	}
	child.emit(Instruction{Op: OpReturn})

	i := len(fs.fn.Constants)
	fs.fn.Constants = append(fs.fn.Constants, Constant{Kind: FunctionConstant, Func: child.fn})
	return i, nil
}

func (fs *funcState) returnStmt(s *luaast.ReturnStmt) error {
	n := len(s.Exprs)
	if n == 1 {
		switch s.Exprs[0].(type) {
		case *luaast.CallExpr, *luaast.MethodCallExpr:
			return fs.call(s.Exprs[0], OpTailCall)
		}
	}
	if n > 0 && luaast.IsMultiValue(s.Exprs[n-1]) {
		for _, e := range s.Exprs[:n-1] {
			if err := fs.expr(e); err != nil {
				return err
			}
		}
		if err := fs.multi(s.Exprs[n-1]); err != nil {
			return err
		}
		fs.emit(Instruction{Op: OpReturn, A: n - 1, Variadic: true})
		return nil
	}
	for _, e := range s.Exprs {
		if err := fs.expr(e); err != nil {
			return err
		}
	}
	fs.emitOp(OpReturn, n)
	return nil
}

func (fs *funcState) gotoStmt(s *luaast.GotoStmt) error {
	for i := len(fs.blocks) - 1; i >= 0; i-- {
		if lb, ok := fs.blocks[i].labels[s.Label]; ok {
			fs.jump(OpJump, lb.id)
			return nil
		}
	}
	bl := fs.blocks[len(fs.blocks)-1]
	bl.gotos = append(bl.gotos, pendingGoto{
		name:    s.Label,
		pc:      fs.jump(OpJump, 0),
		pos:     s.Position,
		nactive: len(fs.actives),
	})
	return nil
}

func (fs *funcState) labelStmt(s *luaast.LabelStmt, atBlockEnd bool) error {
	for _, bl := range fs.blocks {
		if prev, ok := bl.labels[s.Name]; ok {
			return fs.b.errorf(s.Position, "label '%s' already defined on line %d", s.Name, prev.line)
		}
	}
	bl := fs.blocks[len(fs.blocks)-1]
	id := fs.newLabel()
	fs.placeLabel(id)
	nactive := len(fs.actives)
	if atBlockEnd {
		nactive = bl.firstActive
	}
	bl.labels[s.Name] = labelInfo{id: id, line: s.Position.Line, nactive: nactive}

	kept := bl.gotos[:0]
	for _, g := range bl.gotos {
		if g.name != s.Name {
			kept = append(kept, g)
			continue
		}
		if g.nactive < nactive {
			return fs.b.errorf(g.pos, "<goto %s> jumps into the scope of local '%s'", g.name, fs.actives[g.nactive].name)
		}
		fs.fn.Code[g.pc].Label = id
	}
	bl.gotos = kept
	return nil
}

// exprList pushes exactly want values from a list of expressions,
// evaluating every expression.
func (fs *funcState) exprList(exprs []luaast.Expr, want int) error {
	n := len(exprs)
	if n > 0 && luaast.IsMultiValue(exprs[n-1]) {
		for _, e := range exprs[:n-1] {
			if err := fs.expr(e); err != nil {
				return err
			}
		}
		if err := fs.multi(exprs[n-1]); err != nil {
			return err
		}
		fs.emitOp(OpAdjust, max(want-(n-1), 0))
		if extra := n - 1 - want; extra > 0 {
			fs.emitOp(OpPop, extra)
		}
		return nil
	}
	for _, e := range exprs {
		if err := fs.expr(e); err != nil {
			return err
		}
	}
	switch {
	case n > want:
		fs.emitOp(OpPop, n-want)
	case n < want:
		fs.emitOp(OpLoadNil, want-n)
	}
	return nil
}

// multi pushes all values of a call or vararg expression followed by their count.
func (fs *funcState) multi(e luaast.Expr) error {
	switch e := e.(type) {
	case *luaast.CallExpr, *luaast.MethodCallExpr:
		return fs.call(e, OpCall)
	case *luaast.VarargExpr:
		fs.emit(Instruction{Op: OpVararg})
		return nil
	default:
		return fmt.Errorf("build %s: %T is not multi-valued", fs.b.name, e)
	}
}

// call emits a function or method call with op ([OpCall] or [OpTailCall]).
func (fs *funcState) call(e luaast.Expr, op Op) error {
	var args []luaast.Expr
	fixed := 0
	switch e := e.(type) {
	case *luaast.CallExpr:
		if err := fs.expr(e.Func); err != nil {
			return err
		}
		args = e.Args
	case *luaast.MethodCallExpr:
		if err := fs.expr(e.Receiver); err != nil {
			return err
		}
		fs.emitOp(OpSelf, fs.constant(luavalue.String(e.Method)))
		args = e.Args
		fixed = 1
	default:
		return fmt.Errorf("build %s: %T is not a call", fs.b.name, e)
	}
	fs.line = e.Pos().Line
	variadic := false
	for i, arg := range args {
		if i == len(args)-1 && luaast.IsMultiValue(arg) {
			if err := fs.multi(arg); err != nil {
				return err
			}
			variadic = true
			break
		}
		if err := fs.expr(arg); err != nil {
			return err
		}
		fixed++
	}
	if fixed > maxFixedArgs {
		return fs.b.errorf(e.Pos(), "function call has more than %d arguments", maxFixedArgs)
	}
	fs.line = e.Pos().Line
	fs.emit(Instruction{Op: op, A: fixed, Variadic: variadic})
	return nil
}

var binaryOps = map[luaast.BinaryOperator]Op{
	luaast.AddOp:    OpAdd,
	luaast.SubOp:    OpSub,
	luaast.MulOp:    OpMul,
	luaast.DivOp:    OpDiv,
	luaast.IDivOp:   OpIDiv,
	luaast.ModOp:    OpMod,
	luaast.PowOp:    OpPow,
	luaast.ConcatOp: OpConcat,
	luaast.EqOp:     OpEq,
	luaast.NeOp:     OpNe,
	luaast.LtOp:     OpLt,
	luaast.LeOp:     OpLe,
	luaast.GtOp:     OpGt,
	luaast.GeOp:     OpGe,
	luaast.BAndOp:   OpBAnd,
	luaast.BOrOp:    OpBOr,
	luaast.BXorOp:   OpBXor,
	luaast.ShlOp:    OpShl,
	luaast.ShrOp:    OpShr,
}

var unaryOps = map[luaast.UnaryOperator]Op{
	luaast.NegOp:  OpNeg,
	luaast.NotOp:  OpNot,
	luaast.LenOp:  OpLen,
	luaast.BNotOp: OpBNot,
}

// expr pushes exactly one value.
func (fs *funcState) expr(e luaast.Expr) error {
	fs.line = e.Pos().Line
	switch e := e.(type) {
	case *luaast.LiteralExpr:
		fs.pushValue(e.Value)
	case *luaast.IdentifierExpr:
		fs.load(e.Name)
	case *luaast.VarargExpr:
		fs.emit(Instruction{Op: OpVararg})
		fs.emitOp(OpAdjust, 1)
	case *luaast.BinaryOpExpr:
		switch e.Op {
		case luaast.AndOp, luaast.OrOp:
			if err := fs.expr(e.Left); err != nil {
				return err
			}
			end := fs.newLabel()
			fs.emit(Instruction{Op: OpDup})
			if e.Op == luaast.AndOp {
				fs.jump(OpJumpIfFalse, end)
			} else {
				fs.jump(OpJumpIfTrue, end)
			}
			fs.emitOp(OpPop, 1)
			if err := fs.expr(e.Right); err != nil {
				return err
			}
			fs.placeLabel(end)
		default:
			op, ok := binaryOps[e.Op]
			if !ok {
				return fmt.Errorf("build %s: unhandled operator %v", fs.b.name, e.Op)
			}
			if err := fs.expr(e.Left); err != nil {
				return err
			}
			if err := fs.expr(e.Right); err != nil {
				return err
			}
			fs.line = e.Position.Line
			fs.emit(Instruction{Op: op})
		}
	case *luaast.UnaryOpExpr:
		op, ok := unaryOps[e.Op]
		if !ok {
			return fmt.Errorf("build %s: unhandled operator %v", fs.b.name, e.Op)
		}
		if err := fs.expr(e.Operand); err != nil {
			return err
		}
		fs.emit(Instruction{Op: op})
	case *luaast.CallExpr, *luaast.MethodCallExpr:
		if err := fs.call(e, OpCall); err != nil {
			return err
		}
		fs.emitOp(OpAdjust, 1)
	case *luaast.MemberAccessExpr, *luaast.IndexAccessExpr:
		if err := fs.indexTarget(e); err != nil {
			return err
		}
		fs.emit(Instruction{Op: OpGetIndex})
	case *luaast.TableExpr:
		return fs.table(e)
	case *luaast.FunctionExpr:
		k, err := fs.function(e)
		if err != nil {
			return err
		}
		fs.emitOp(OpClosure, k)
	case *luaast.IfExpr:
		end := fs.newLabel()
		for _, clause := range e.Clauses {
			if err := fs.expr(clause.Cond); err != nil {
				return err
			}
			next := fs.newLabel()
			fs.jump(OpJumpIfFalse, next)
			if err := fs.expr(clause.Value); err != nil {
				return err
			}
			fs.jump(OpJump, end)
			fs.placeLabel(next)
		}
		if err := fs.expr(e.Else); err != nil {
			return err
		}
		fs.placeLabel(end)
	case *luaast.ParenExpr:
		return fs.expr(e.Inner)
	default:
		return fmt.Errorf("build %s: unhandled expression %T", fs.b.name, e)
	}
	return nil
}

func (fs *funcState) table(e *luaast.TableExpr) error {
	fs.emit(Instruction{Op: OpNewTable})
	next := 1
	for i, field := range e.Fields {
		fs.emit(Instruction{Op: OpDup})
		switch field.Kind {
		case luaast.PositionalField:
			if i == len(e.Fields)-1 && luaast.IsMultiValue(field.Value) {
				if err := fs.multi(field.Value); err != nil {
					return err
				}
				fs.emitOp(OpSetList, next)
				return nil
			}
			fs.pushValue(fs.integer(int64(next)))
			next++
		case luaast.NamedField:
			fs.pushValue(luavalue.String(field.Name))
		case luaast.KeyedField:
			if err := fs.expr(field.Key); err != nil {
				return err
			}
		}
		if err := fs.expr(field.Value); err != nil {
			return err
		}
		fs.emit(Instruction{Op: OpSetIndex})
	}
	return nil
}

// integer returns i as a number of the dialect's preferred subtype.
func (fs *funcState) integer(i int64) luavalue.Value {
	if fs.b.feat.Integers {
		return luavalue.Integer(i)
	}
	return luavalue.Float(float64(i))
}
