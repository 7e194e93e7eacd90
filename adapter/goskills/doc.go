// Package goskills adapts github.com/smallnest/goskills skill packages and
// a handful of sandboxed local operations (shell, Python, file read/write)
// into langchaingo tools.Tool values.
//
// The capi_desktop agent node (nodes/agents) is the sole consumer: for each
// requested operation it builds one SkillTool with NewSkillTool, rooted at
// the skill directory, and calls it directly, so a desktop/file-operation
// request becomes an ordinary tool call rather than bespoke node logic.
//
//	tool := goskills.NewSkillTool("read_file", "Read a file relative to the skill package", dir)
//	out, err := tool.Call(ctx, `{"filePath": "reporte.csv"}`)
package goskills
