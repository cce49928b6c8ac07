package pipeline

// Upload batching limits. A message whose combined attachments stay under
// the split threshold ships as one send; anything larger is grouped so no
// single send exceeds the group budget or file count.
const (
	splitThresholdBytes = 7864320 // 7.5 MiB
	groupBudgetBytes    = 6 << 20
	groupMaxFiles       = 3
)

// splitFiles partitions fetched files into send groups. The first group
// travels with the message content; follow-up groups ship as bare file
// messages. Greedy first-fit in arrival order keeps attachment order
// stable on the mirror.
func splitFiles(files []fetchedFile) [][]fetchedFile {
	if len(files) == 0 {
		return nil
	}
	total := 0
	for _, f := range files {
		total += f.size()
	}
	if total <= splitThresholdBytes && len(files) <= groupMaxFiles {
		return [][]fetchedFile{files}
	}

	var groups [][]fetchedFile
	var cur []fetchedFile
	curBytes := 0
	for _, f := range files {
		if len(cur) > 0 && (curBytes+f.size() > groupBudgetBytes || len(cur) >= groupMaxFiles) {
			groups = append(groups, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, f)
		curBytes += f.size()
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
