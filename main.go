// Command supabase-mcp serves a Supabase project, or a SQL database, over
// the Model Context Protocol.
package main

import "github.com/shakram02/go-supabase-mcp/cmd"

func main() {
	cmd.Execute()
}
