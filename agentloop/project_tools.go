package agentloop

// ReadFileArgs are the arguments of the read tools.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"description=a relative path to the file in the project directory"`
}

// WriteFileArgs are the arguments of the write tool.
type WriteFileArgs struct {
	Path     string `json:"path" jsonschema:"description=a relative path to the file in the project directory"`
	Contents string `json:"contents" jsonschema:"description=new contents of a file"`
}

// Tool names of the porting tool set.
const (
	ToolSrcListFiles = "src_list_files"
	ToolSrcReadFile  = "src_read_file"
	ToolDstListFiles = "dst_list_files"
	ToolDstReadFile  = "dst_read_file"
	ToolDstWriteFile = "dst_write_file"
)

// RegisterProjectTools registers the porting tool set: listing and reading
// for both projects, writing for the destination only.
func RegisterProjectTools(reg *ToolRegistry, src, dst *Project) error {
	registrations := []func() error{
		func() error {
			return Register(reg, ToolSrcListFiles,
				"List all files in the source project directory.",
				func(NoArgs) FileList { return src.ListFiles() })
		},
		func() error {
			return Register(reg, ToolSrcReadFile,
				"Reads the contents of a file in the source project directory.",
				func(args ReadFileArgs) ReadFileResult { return src.ReadFile(args.Path) })
		},
		func() error {
			return Register(reg, ToolDstListFiles,
				"List all files in the destination project directory.",
				func(NoArgs) FileList { return dst.ListFiles() })
		},
		func() error {
			return Register(reg, ToolDstReadFile,
				"Reads the contents of a file in the destination project directory.",
				func(args ReadFileArgs) ReadFileResult { return dst.ReadFile(args.Path) })
		},
		func() error {
			return Register(reg, ToolDstWriteFile,
				"Saves the contents to a file in the destination project directory.",
				func(args WriteFileArgs) WriteFileResult { return dst.WriteFile(args.Path, args.Contents) })
		},
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}
