package discmodel

// DiscProfile names one of the fixed optical-disc media stocks this tool
// targets, by name and total sector capacity (spec.md §3 DiscProfile).
type DiscProfile struct {
	Name         string
	TotalSectors int64
}

// Profiles is the fixed ordered set of supported disc profiles, smallest
// capacity first.
var Profiles = []DiscProfile{
	{Name: "DVD+R", TotalSectors: 2_295_104},
	{Name: "DVD+R DL", TotalSectors: 4_173_824},
	{Name: "BD-XL TL", TotalSectors: 48_878_592},
}
