// Package nexus presents a NeXus file as a tree of groups, fields,
// attributes and links over the hdf5 package.
//
// A File is obtained with Open or Create and navigated from its root group:
//
//	f, err := nexus.Open("scan.nxs", nexus.ReadOnly(true))
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
//	root, err := f.Root()
//	entry, err := root.OpenGroup("entry")
//	counts, err := entry.OpenField("counts")
//	tail, err := counts.Get(nexus.From(-10))
//
// Every node computes its NeXus path once, when it is opened: groups
// contribute "/name:NXclass", fields "/name" and attributes "@name". Nodes
// opened through another node are closed with it, and File.Reopen reopens
// them all, which is how a SWMR reader observes a writer's progress.
package nexus
