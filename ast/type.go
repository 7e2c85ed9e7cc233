// Package ast defines the typed abstract syntax tree handed to the
// RSI generator. Every node is a concrete struct implementing the Node
// (or, for expressions, Expr) interface; dispatch is a type switch rather
// than a visitor object graph.
package ast

import "fmt"

type Primitive int

const (
	I8 Primitive = iota
	I16
	I32
	I64
	CVoid
)

func (p Primitive) String() string {
	switch p {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case CVoid:
		return "c_void"
	default:
		return "<bad primitive>"
	}
}

func (p Primitive) Size() int {
	switch p {
	case I8, CVoid:
		return 1
	case I16:
		return 2
	case I32:
		return 4
	case I64:
		return 8
	default:
		return 0
	}
}

// Type is a sum type over primitive | pointer-to-type | array-of-type.
// Exactly one of the three shapes is populated at a time, discriminated
// by Kind.
type Type struct {
	Kind      TypeKind
	Primitive Primitive
	Elem      *Type // pointer / array element type
	ArrayLen  *int  // nil => unknown/unsized
}

type TypeKind int

const (
	TypePrimitive TypeKind = iota
	TypePointer
	TypeArray
)

func Prim(p Primitive) Type { return Type{Kind: TypePrimitive, Primitive: p} }

func PointerTo(elem Type) Type { return Type{Kind: TypePointer, Elem: &elem} }

func ArrayOf(elem Type, length int) Type {
	l := length
	return Type{Kind: TypeArray, Elem: &elem, ArrayLen: &l}
}

// SizeOf yields 1/2/4/8 for primitives (c_void=1), 8 for any pointer, and
// size(element)*count for sized arrays.
func SizeOf(t Type) int {
	switch t.Kind {
	case TypePrimitive:
		return t.Primitive.Size()
	case TypePointer:
		return 8
	case TypeArray:
		if t.ArrayLen == nil {
			return 0
		}
		return SizeOf(*t.Elem) * (*t.ArrayLen)
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t.Kind {
	case TypePrimitive:
		return t.Primitive.String()
	case TypePointer:
		return "*" + t.Elem.String()
	case TypeArray:
		if t.ArrayLen != nil {
			return fmt.Sprintf("%s[%d]", t.Elem.String(), *t.ArrayLen)
		}
		return t.Elem.String() + "[]"
	default:
		return "<bad type>"
	}
}

func (t Type) IsPointer() bool   { return t.Kind == TypePointer }
func (t Type) IsArray() bool     { return t.Kind == TypeArray }
func (t Type) IsPrimitive() bool { return t.Kind == TypePrimitive }
