package roomname

var colors = []string{
	"amber", "azure", "coral", "cobalt", "ivory", "jade", "lilac", "ochre", "olive", "plum",
	"rose", "ruby", "sage", "scarlet", "teal", "topaz", "umber", "violet", "indigo", "saffron",
}

var moods = []string{
	"brisk", "calm", "clever", "eager", "gentle", "jolly", "lucky", "mellow", "nimble", "plucky",
	"quiet", "rapid", "sleepy", "snappy", "steady", "sunny", "swift", "tidy", "witty", "zesty",
}

var creatures = []string{
	"badger", "beaver", "bison", "crane", "falcon", "gecko", "heron", "ibis", "koala", "lemur",
	"lynx", "marmot", "newt", "ocelot", "otter", "panda", "puffin", "quokka", "walrus", "wombat",
}

var things = []string{
	"anchor", "beacon", "canvas", "compass", "easel", "ember", "harbor", "kettle", "lantern", "meadow",
	"mirror", "orbit", "pebble", "pixel", "prism", "quill", "ribbon", "summit", "teapot", "window",
}
