package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
)

// interactiveRoles are the roles that receive refs in a snapshot.
var interactiveRoles = map[string]bool{
	"button":       true,
	"link":         true,
	"textbox":      true,
	"checkbox":     true,
	"radio":        true,
	"combobox":     true,
	"listbox":      true,
	"option":       true,
	"menuitem":     true,
	"menu":         true,
	"menubar":      true,
	"tab":          true,
	"tablist":      true,
	"slider":       true,
	"spinbutton":   true,
	"searchbox":    true,
	"switch":       true,
	"treeitem":     true,
	"gridcell":     true,
	"columnheader": true,
	"rowheader":    true,
}

func isInteractiveRole(role string) bool {
	return interactiveRoles[role]
}

// refAssigner issues a ref for an interactive backend node during a tree
// build. Split from refStaging so the build is testable without CDP.
type refAssigner func(backend cdp.BackendNodeID, role, name string) string

// buildTree converts the flat node list returned by the accessibility
// domain into a rooted tree, skipping ignored nodes and empty generic
// containers, and assigning refs to interactive nodes.
func buildTree(axNodes []*accessibility.Node, assign refAssigner) (*Node, int) {
	byID := make(map[accessibility.NodeID]*accessibility.Node, len(axNodes))
	hasParent := make(map[accessibility.NodeID]bool)
	for _, n := range axNodes {
		if n == nil {
			continue
		}
		byID[n.NodeID] = n
		for _, child := range n.ChildIDs {
			hasParent[child] = true
		}
	}

	var rootAX *accessibility.Node
	for _, n := range axNodes {
		if n != nil && !hasParent[n.NodeID] {
			rootAX = n
			break
		}
	}
	if rootAX == nil && len(axNodes) > 0 {
		rootAX = axNodes[0]
	}
	if rootAX == nil {
		return nil, 0
	}

	count := 0
	nodes := convertNode(rootAX, byID, assign, &count)
	switch len(nodes) {
	case 0:
		// The root itself was filtered; keep an anchor so the tree stays
		// rooted even on an empty page.
		return &Node{Role: axRole(rootAX)}, 1
	case 1:
		return nodes[0], count
	default:
		// The root collapsed away; re-root its surviving children.
		count++
		return &Node{Role: axRole(rootAX), Children: nodes}, count
	}
}

// convertNode returns the subtree a node contributes. Containers that
// carry no information of their own (unnamed generic/none) are collapsed:
// their children are spliced into the parent.
func convertNode(ax *accessibility.Node, byID map[accessibility.NodeID]*accessibility.Node, assign refAssigner, count *int) []*Node {
	if ax == nil || ax.Ignored {
		return nil
	}

	role := axRole(ax)
	name := axName(ax)

	var children []*Node
	for _, childID := range ax.ChildIDs {
		children = append(children, convertNode(byID[childID], byID, assign, count)...)
	}

	if (role == "" || role == "generic" || role == "none") && name == "" {
		return children
	}

	node := &Node{Role: role, Name: name, Children: children}
	if isInteractiveRole(role) && ax.BackendDOMNodeID != 0 {
		node.Ref = assign(ax.BackendDOMNodeID, role, name)
	}
	*count++
	return []*Node{node}
}

func axRole(n *accessibility.Node) string {
	if n.Role == nil {
		return ""
	}
	return axValueString(n.Role)
}

func axName(n *accessibility.Node) string {
	if n.Name == nil {
		return ""
	}
	return axValueString(n.Name)
}

// axValueString renders an AXValue's raw JSON value as plain text. String
// values arrive quoted on the wire; everything else is used as is.
func axValueString(v *accessibility.Value) string {
	if v.Value == nil {
		return ""
	}
	s := fmt.Sprintf("%v", v.Value)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if unquoted, err := strconv.Unquote(s); err == nil {
			return unquoted
		}
	}
	return s
}

// FormatTree renders a tree as indented text, one node per line, with refs
// in brackets on interactive nodes. This is the representation returned to
// MCP callers.
func FormatTree(tree *Tree) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Page Accessibility Snapshot (generation %d)\n\n", tree.Generation)
	formatNode(&sb, tree.Root, 0)
	return sb.String()
}

func formatNode(sb *strings.Builder, n *Node, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	switch {
	case n.Ref != "" && n.Name != "":
		fmt.Fprintf(sb, "%s%s %q [%s]\n", indent, n.Role, n.Name, n.Ref)
	case n.Ref != "":
		fmt.Fprintf(sb, "%s%s [%s]\n", indent, n.Role, n.Ref)
	case n.Name != "":
		fmt.Fprintf(sb, "%s%s: %q\n", indent, n.Role, n.Name)
	case n.Role != "":
		fmt.Fprintf(sb, "%s%s\n", indent, n.Role)
	}
	for _, child := range n.Children {
		formatNode(sb, child, depth+1)
	}
}
