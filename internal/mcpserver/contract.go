package mcpserver

// PropertyFormat describes how canvases are mirrored into note frontmatter,
// for LLM consumers that read or edit those notes.
const PropertyFormat = `# Canvas Property Format

Every note placed on a canvas carries a frontmatter property named after the
canvas file (its base name without ` + "`" + `.canvas` + "`" + `). The property is a YAML
list of wikilinks.

## Entries

- ` + "`" + `[[Board.canvas]]` + "`" + ` marks the note as a member of ` + "`" + `Board.canvas` + "`" + `.
- ` + "`" + `[[other-note]]` + "`" + ` records an edge of the canvas from this note to
  ` + "`" + `other-note` + "`" + `. The link text is the shortest one that resolves uniquely.
- Attachments are referenced without the embed marker (` + "`" + `[[diagram.png]]` + "`" + `).

## Example

` + "```" + `markdown
---
title: Roadmap
Board:
  - "[[Board.canvas]]"
  - "[[milestones]]"
  - "[[team/alice]]"
---
` + "```" + `

## Rules

1. The property is maintained by the service; edit the canvas, not the list.
2. Renaming a canvas renames the property; deleting a canvas removes it.
3. ` + "`" + `strip_canvas_properties` + "`" + ` removes the property from every note on a canvas.
4. Entries that are not wikilinks are left untouched.
`
