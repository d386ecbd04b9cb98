// Package expr implements the small, safely-scoped RunIf expression
// language described in spec §4.3.1 and the redesign note in §9: a tagged
// AST (Var, HasVar, Eq, And, Or, Not, Lit) evaluated over a
// domain.DeploymentContext. It never performs I/O and never executes
// arbitrary code; unknown node kinds and parse failures degrade to false.
package expr

import (
	"fmt"
	"strings"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// Node is a tagged expression AST node.
type Node interface{ isNode() }

type Lit struct{ Value string }
type Var struct{ Name string }
type HasVar struct{ Name string }
type Not struct{ X Node }
type And struct{ X, Y Node }
type Or struct{ X, Y Node }
type Eq struct{ X, Y Node }
type Neq struct{ X, Y Node }

func (Lit) isNode()    {}
func (Var) isNode()    {}
func (HasVar) isNode() {}
func (Not) isNode()    {}
func (And) isNode()    {}
func (Or) isNode()     {}
func (Eq) isNode()     {}
func (Neq) isNode()    {}

// Eval evaluates node against ctx, returning its boolean value. Non-boolean
// leaf nodes (Lit/Var) are truthy iff resolved to a non-empty string that
// isn't "false". Unknown node kinds evaluate to false.
func Eval(n Node, ctx domain.DeploymentContext) bool {
	switch v := n.(type) {
	case Lit:
		return truthy(v.Value)
	case Var:
		return truthy(resolve(v.Name, ctx))
	case HasVar:
		return ctx.HasVar(v.Name)
	case Not:
		return !Eval(v.X, ctx)
	case And:
		return Eval(v.X, ctx) && Eval(v.Y, ctx)
	case Or:
		return Eval(v.X, ctx) || Eval(v.Y, ctx)
	case Eq:
		return resolveNode(v.X, ctx) == resolveNode(v.Y, ctx)
	case Neq:
		return resolveNode(v.X, ctx) != resolveNode(v.Y, ctx)
	default:
		return false
	}
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "false")
}

func resolve(name string, ctx domain.DeploymentContext) string {
	if v, ok := ctx.Get(name); ok {
		return v
	}
	return name
}

// resolveNode returns the string value of a Lit/Var/HasVar node for
// comparison purposes; HasVar resolves to "true"/"false".
func resolveNode(n Node, ctx domain.DeploymentContext) string {
	switch v := n.(type) {
	case Lit:
		return v.Value
	case Var:
		return resolve(v.Name, ctx)
	case HasVar:
		if ctx.HasVar(v.Name) {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", Eval(n, ctx))
	}
}
