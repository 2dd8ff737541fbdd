package compiler

import "fmt"

//  Expression nodes

// Expr is implemented by every node that produces a value.
// genExpr always leaves the result on top of the operand stack.
type Expr interface {
	exprNode()
	String() string
}

// Literal is a compile-time integer constant.
//
//	int x = 10;
//	         ^^  Literal{Value: 10}
type Literal struct {
	Value int64
}

func (*Literal) exprNode()        {}
func (l *Literal) String() string { return fmt.Sprintf("%d", l.Value) }

// VarRef is a read of a named variable.
//
//	return x;
//	       ^  VarRef{Name: "x"}
type VarRef struct {
	Name string
}

func (*VarRef) exprNode()        {}
func (v *VarRef) String() string { return v.Name }

// BinaryExpr represents a binary operation: Left Op Right.
//
//	x + 1
//	^ ^ ^
//	| | |
//	| | Right
//	| Op
//	Left
type BinaryExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// FunctionCall represents name(args)
type FunctionCall struct {
	Name string
	Args []Expr
}

func (*FunctionCall) exprNode() {}
func (c *FunctionCall) String() string {
	return fmt.Sprintf("FunctionCall(%s, args=%v)", c.Name, c.Args)
}

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	String() string
}

// VariableDecl represents  int name = expr;
type VariableDecl struct {
	Name string
	Init Expr
}

func (*VariableDecl) stmtNode() {}
func (d *VariableDecl) String() string {
	return fmt.Sprintf("VariableDecl(int %s = %s)", d.Name, d.Init)
}

// Assignment represents  name = expr;
type Assignment struct {
	Name  string
	Value Expr
}

func (*Assignment) stmtNode() {}
func (a *Assignment) String() string {
	return fmt.Sprintf("Assignment(%s = %s)", a.Name, a.Value)
}

// ReturnStmt represents  return expr;
type ReturnStmt struct {
	Expr Expr
}

func (*ReturnStmt) stmtNode() {}
func (r *ReturnStmt) String() string {
	return fmt.Sprintf("ReturnStmt(%s)", r.Expr)
}

// BlockStmt represents { statement; ... }
type BlockStmt struct {
	Stmts []Stmt
}

func (*BlockStmt) stmtNode() {}
func (b *BlockStmt) String() string {
	return fmt.Sprintf("BlockStmt(len=%d)", len(b.Stmts))
}

// IfStmt represents if (cond) body [else elseBody]
type IfStmt struct {
	Condition Expr
	Body      Stmt
	ElseBody  Stmt // may be nil
}

func (*IfStmt) stmtNode() {}
func (i *IfStmt) String() string {
	if i.ElseBody != nil {
		return fmt.Sprintf("IfStmt(if %s then %s else %s)", i.Condition, i.Body, i.ElseBody)
	}
	return fmt.Sprintf("IfStmt(if %s then %s)", i.Condition, i.Body)
}

// WhileStmt represents while (cond) body
type WhileStmt struct {
	Condition Expr
	Body      Stmt
}

func (*WhileStmt) stmtNode() {}
func (w *WhileStmt) String() string {
	return fmt.Sprintf("WhileStmt(while %s do %s)", w.Condition, w.Body)
}

// FunctionDecl represents int name(params) { body }
// Every parameter is an int, so params are bare names.
type FunctionDecl struct {
	Name   string
	Params []string
	Body   Stmt // typically BlockStmt
}

func (*FunctionDecl) stmtNode() {}
func (f *FunctionDecl) String() string {
	return fmt.Sprintf("FunctionDecl(%s, params=%v, body=%s)", f.Name, f.Params, f.Body)
}

// PrintStmt represents  printf("text");
// The argument is a single literal string; there is no format machinery.
type PrintStmt struct {
	Text string
}

func (*PrintStmt) stmtNode() {}
func (p *PrintStmt) String() string {
	return fmt.Sprintf("PrintStmt(%q)", p.Text)
}
